package config

import (
	"os"
	"regexp"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default} with values from the
// environment. A variable that is unset or empty and has no default is left
// as written so the problem stays visible.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if parts[2] != "" {
			return parts[3]
		}
		return m
	})
}
