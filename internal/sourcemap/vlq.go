package sourcemap

import (
	"encoding/json"
	"strings"
)

// fullMap is the subset of the source-map v3 wire format needed to
// reverse-decode "mappings" ourselves. gopkg.in/sourcemap.v1 exposes only
// the forward (generated -> source) direction via Map.Source, so the
// reverse direction declaration maps need for spec §4.6's incoming
// mapping is hand-decoded here; see DESIGN.md for why no pack library
// covers this.
type fullMap struct {
	Version int      `json:"version"`
	Sources []string `json:"sources"`
	Names   []string `json:"names"`
	Mappings string  `json:"mappings"`
}

// decodeReverseFromJSON finds the first generated position whose decoded
// source position exactly equals (line, column) within source index
// sourceIndex, by re-parsing the raw map JSON (already validated by
// smap.Parse at the call site) and walking the VLQ-encoded mappings
// segment by segment.
func decodeReverseFromJSON(data []byte, sourceIndex, line, column int) (genLine, genCol int, ok bool) {
	var fm fullMap
	if err := json.Unmarshal(data, &fm); err != nil {
		return 0, 0, false
	}

	genLine = 1
	genCol = 0
	srcLine := 0
	srcCol := 0
	srcIdx := 0

	for _, lineSegs := range strings.Split(fm.Mappings, ";") {
		genCol = 0
		if lineSegs != "" {
			for _, seg := range strings.Split(lineSegs, ",") {
				if seg == "" {
					continue
				}
				fields := decodeVLQSegment(seg)
				if len(fields) == 0 {
					continue
				}
				genCol += fields[0]
				if len(fields) >= 4 {
					srcIdx += fields[1]
					srcLine += fields[2]
					srcCol += fields[3]

					if srcIdx == sourceIndex && srcLine+1 == line && srcCol == column {
						return genLine, genCol, true
					}
				}
			}
		}
		genLine++
	}

	return 0, 0, false
}

// decodeVLQSegment decodes a single comma-separated mapping segment
// (base64-VLQ fields) into its signed integer fields.
func decodeVLQSegment(seg string) []int {
	var out []int
	i := 0
	for i < len(seg) {
		val, consumed := decodeVLQ(seg[i:])
		if consumed == 0 {
			break
		}
		out = append(out, val)
		i += consumed
	}
	return out
}

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

func base64Value(c byte) int {
	return strings.IndexByte(base64Chars, c)
}

// decodeVLQ decodes one base64-VLQ value from the start of s, returning
// the decoded signed integer and the number of bytes consumed.
func decodeVLQ(s string) (value int, consumed int) {
	shift := 0
	result := 0
	for consumed < len(s) {
		c := s[consumed]
		digit := base64Value(c)
		if digit < 0 {
			break
		}
		consumed++
		cont := digit & 0x20
		digit &= 0x1f
		result += digit << shift
		shift += 5
		if cont == 0 {
			negative := result&1 == 1
			result >>= 1
			if negative {
				result = -result
			}
			return result, consumed
		}
	}
	return 0, consumed
}
