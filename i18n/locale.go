// Package i18n resolves the active locale for an invocation and looks up
// localized diagnostic messages from a hardcoded English catalog, mirroring
// the host's own message bundle rather than delegating to an external
// translation service.
package i18n

import "strings"

// Selector resolves the locale to use for one invocation, following the
// fixed precedence: CLI override > request locale > process environment
// (LC_ALL, LANG, LC_MESSAGES) > system collaborator > "en".
type Selector struct {
	// CLIOverride is explicit boot-time configuration state (per DESIGN
	// notes: not ambient, populated once at startup).
	CLIOverride string
	// Environ supplies process environment lookups; NewSelector replaces a
	// nil lookup with one that always returns "".
	Environ func(string) string
	// System is consulted last, before the "en" default.
	System func() string
}

// NewSelector builds a Selector from the given lookups; a nil environ or
// system is replaced by one that always returns "".
func NewSelector(cliOverride string, environ func(string) string, system func() string) *Selector {
	if environ == nil {
		environ = func(string) string { return "" }
	}
	if system == nil {
		system = func() string { return "" }
	}
	return &Selector{CLIOverride: cliOverride, Environ: environ, System: system}
}

// Select resolves the active locale for one request.
func (s *Selector) Select(requestLocale string) string {
	if s.CLIOverride != "" {
		return Normalize(s.CLIOverride)
	}
	if requestLocale != "" {
		return Normalize(requestLocale)
	}
	for _, key := range []string{"LC_ALL", "LANG", "LC_MESSAGES"} {
		if v := s.Environ(key); v != "" {
			return Normalize(v)
		}
	}
	if v := s.System(); v != "" {
		return Normalize(v)
	}
	return "en"
}

// Normalize canonicalizes a raw locale tag: replace '_' with '-', lowercase,
// keep only the primary subtag, trim at '.' first (e.g. "en_US.UTF-8").
// Normalize is idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	if raw == "" {
		return "en"
	}
	if dot := strings.IndexByte(raw, '.'); dot >= 0 {
		raw = raw[:dot]
	}
	raw = strings.ReplaceAll(raw, "_", "-")
	raw = strings.ToLower(raw)
	if dash := strings.IndexByte(raw, '-'); dash >= 0 {
		raw = raw[:dash]
	}
	if raw == "" {
		return "en"
	}
	return raw
}
