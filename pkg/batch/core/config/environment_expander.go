package config

import (
	"os"
	"strings"
)

// EnvironmentExpander expands environment variable placeholders in raw configuration.
type EnvironmentExpander interface {
	// Expand replaces ${VAR}, $VAR and ${VAR:-default} placeholders in input.
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands placeholders from the process environment.
// Unset variables without a default expand to the empty string.
type OsEnvironmentExpander struct {
	lookup func(string) (string, bool)
}

// NewOsEnvironmentExpander creates an OsEnvironmentExpander reading os.LookupEnv.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{lookup: os.LookupEnv}
}

// Expand implements EnvironmentExpander.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	expanded := os.Expand(string(input), func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v, ok := lookup(name); ok && (v != "" || !hasDefault) {
			return v
		}
		return def
	})
	return []byte(expanded), nil
}
