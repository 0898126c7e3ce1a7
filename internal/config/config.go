// Package config holds the session-scoped configuration recognized from
// Initialize's initializationOptions.configuration, per spec §6.
package config

import "encoding/json"

// Config is the set of recognized configuration keys for one session.
// Unrecognized keys are ignored rather than rejected, matching the
// teacher's preference for lenient, additive configuration surfaces.
type Config struct {
	// DiagnosticsEnable forwards downstream diagnostics to the client.
	// Key: typescript.diagnostics.enable. Default: false.
	DiagnosticsEnable bool `json:"-"`

	// Progress emits $/progress notifications during workspace
	// materialization. Key: typescript.progress. Default: true iff the
	// client advertised the window/workDoneProgress capability.
	Progress bool `json:"-"`

	// RestartAfterInstall requests a downstream restart once an
	// installation finishes. Key:
	// typescript.restartAfterDependencyInstallation. Default: true.
	RestartAfterInstall bool `json:"-"`

	// Npmrc is registry configuration handed to the dependency installer
	// verbatim, serialized to .npmrc under the session temp directory.
	// Key: typescript.npmrc. Default: "".
	Npmrc string `json:"-"`

	// SourcegraphURL is the external-repo instance root used by
	// resolveExternal. Key: typescript.sourcegraphUrl.
	SourcegraphURL string `json:"-"`

	// AccessToken is the bearer credential carried in external-repo
	// userinfo. Key: typescript.accessToken.
	AccessToken string `json:"-"`

	// PinUnversionedPackages rejects external-repo mappings that would
	// otherwise fall back to a moving HEAD target when gitHead metadata
	// is absent (spec §9 Open Question, resolved in SPEC_FULL.md).
	// Default: true.
	PinUnversionedPackages bool `json:"-"`
}

// raw mirrors the wire shape of initializationOptions.configuration; it
// exists only to decode the dotted key names into Config's fields.
type raw struct {
	Typescript struct {
		Diagnostics struct {
			Enable bool `json:"enable"`
		} `json:"diagnostics"`
		Progress                         *bool  `json:"progress"`
		RestartAfterDependencyInstallation *bool `json:"restartAfterDependencyInstallation"`
		Npmrc                            string `json:"npmrc"`
		SourcegraphURL                   string `json:"sourcegraphUrl"`
		AccessToken                      string `json:"accessToken"`
		PinUnversionedPackages           *bool  `json:"pinUnversionedPackages"`
	} `json:"typescript"`
}

// Default returns the configuration defaults from spec §6, with Progress
// seeded from whether the client advertised work-done-progress support.
func Default(progressCapable bool) Config {
	return Config{
		DiagnosticsEnable:      false,
		Progress:               progressCapable,
		RestartAfterInstall:    true,
		PinUnversionedPackages: true,
	}
}

// Merge decodes raw initializationOptions.configuration (already unmarshaled
// into an any by the caller, typically from glsp's InitializeParams) on top
// of the defaults in cfg, returning the merged result. A nil or
// non-object value leaves cfg unchanged.
func Merge(cfg Config, configuration any) (Config, error) {
	if configuration == nil {
		return cfg, nil
	}
	b, err := json.Marshal(configuration)
	if err != nil {
		return cfg, err
	}
	var r raw
	if err := json.Unmarshal(b, &r); err != nil {
		return cfg, err
	}

	out := cfg
	out.DiagnosticsEnable = r.Typescript.Diagnostics.Enable
	if r.Typescript.Progress != nil {
		out.Progress = *r.Typescript.Progress
	}
	if r.Typescript.RestartAfterDependencyInstallation != nil {
		out.RestartAfterInstall = *r.Typescript.RestartAfterDependencyInstallation
	}
	if r.Typescript.Npmrc != "" {
		out.Npmrc = r.Typescript.Npmrc
	}
	if r.Typescript.SourcegraphURL != "" {
		out.SourcegraphURL = r.Typescript.SourcegraphURL
	}
	if r.Typescript.AccessToken != "" {
		out.AccessToken = r.Typescript.AccessToken
	}
	if r.Typescript.PinUnversionedPackages != nil {
		out.PinUnversionedPackages = *r.Typescript.PinUnversionedPackages
	}
	return out, nil
}
