package config

import (
	"os"
	"regexp"

	"github.com/cockroachdb/errors"
)

// EnvConfigPath names the configuration file when --config is not given.
const EnvConfigPath = "RESILIENCE_CONFIG"

var envRef = regexp.MustCompile(`\$\{(!?)([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LookupFunc resolves an environment reference.
type LookupFunc func(key string) (string, bool)

// Expand replaces ${VAR} references in data. ${VAR:-default} falls back to
// default when VAR is unset or empty and ${!VAR} fails instead. Unset
// references without a default expand to the empty string.
func Expand(data []byte, lookup LookupFunc) ([]byte, error) {
	var missing []error
	out := envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		required, key, def := len(m[1]) > 0, string(m[2]), m[3]
		if v, ok := lookup(key); ok && v != "" {
			return []byte(v)
		}
		if required {
			missing = append(missing, errors.Newf("required environment variable %s is not set", key))
		}
		return def
	})
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	return out, nil
}

func osLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
