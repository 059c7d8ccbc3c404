package cache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Key builds a compact cache key from parts, typically a provider, a model
// and a request body. Part boundaries are significant: Key("ab", "c") and
// Key("a", "bc") differ.
func Key(parts ...string) string {
	d := xxhash.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = d.Write([]byte{0})
		}
		_, _ = d.WriteString(p)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
