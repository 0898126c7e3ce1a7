package router

import "encoding/json"

// marshalJSON/unmarshalGeneric/unmarshalGenericObject/unmarshalJSON are
// the small round-trip primitives the router's generic-tree translation
// is built from (see locations.go, position.go): every uncertain
// third-party wire type is handled as a map[string]any rather than a
// guessed struct literal.
func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(b []byte, out any) error {
	return json.Unmarshal(b, out)
}

func unmarshalGeneric(b []byte) (any, error) {
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func unmarshalGenericObject(b []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
