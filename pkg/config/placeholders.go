package config

import (
	"fmt"
	"os"
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// EnvResolver expands ${NAME} and ${NAME:default} placeholders from the
// environment. A placeholder without a default whose variable is unset is an
// error.
type EnvResolver struct {
	// Lookup reads a variable. It defaults to os.LookupEnv.
	Lookup func(name string) (string, bool)
}

// NewEnvResolver returns a resolver reading the process environment.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{Lookup: os.LookupEnv}
}

// Resolve expands every placeholder in value.
func (r *EnvResolver) Resolve(value string) (string, error) {
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(value, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		name := sub[1]
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
		// A bare ${NAME} yields an empty default group; tell it apart from
		// ${NAME:} by looking for the colon.
		if len(m) > len(name)+3 {
			return sub[2]
		}
		missing = append(missing, name)
		return m
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved placeholder %s in %q", missing[0], value)
	}
	return out, nil
}

// MapResolver resolves placeholders from a fixed set of values.
func MapResolver(values map[string]string) *EnvResolver {
	return &EnvResolver{Lookup: func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}}
}
