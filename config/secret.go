package config

import (
	"net/url"
	"sort"
	"strings"
)

// Secret is a string that prints masked. YAML output keeps the real value.
type Secret string

// Text returns the unmasked value.
func (s Secret) Text() string {
	return string(s)
}

func (s Secret) String() string {
	if len(s) == 0 {
		return ""
	}
	if strings.Contains(string(s), "://") {
		if masked, err := MaskURL(string(s)); err == nil {
			return masked
		}
	}
	return Mask(string(s))
}

func (s Secret) GoString() string {
	return s.String()
}

func (s Secret) MarshalYAML() (interface{}, error) {
	return string(s), nil
}

// Mask keeps the first half of s and replaces the rest with asterisks.
func Mask(s string) string {
	l := len(s)
	if l == 0 {
		return s
	}
	if l == 1 {
		return "*"
	}
	h := l / 2
	return s[0:h] + strings.Repeat("*", l-h)
}

// MaskURL masks the credentials, path and query values of a URL and keeps
// its scheme and host readable.
func MaskURL(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	var str strings.Builder
	str.WriteString(u.Scheme)
	str.WriteString("://")
	if u.User != nil {
		str.WriteString(Mask(u.User.Username()))
		if pass, ok := u.User.Password(); ok {
			str.WriteString(":")
			str.WriteString(Mask(pass))
		}
		str.WriteString("@")
	}
	str.WriteString(u.Host)
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		str.WriteString("/")
		str.WriteString(Mask(p))
	}
	var qs []string
	for k, v := range u.Query() {
		qs = append(qs, k+"="+Mask(strings.Join(v, ",")))
	}
	sort.Strings(qs)
	if len(qs) > 0 {
		str.WriteString("?")
		str.WriteString(strings.Join(qs, "&"))
	}
	return str.String(), nil
}
