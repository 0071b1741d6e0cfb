// Package urls provides utility functions for working with URLs.
package urls

import (
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// IsURLValid checks if the given URL is valid.
func IsURLValid(raw string) bool {
	u, err := url.Parse(raw)

	return err == nil && u.Scheme != "" && u.Host != "" && (u.Scheme == schemeHTTP || u.Scheme == schemeHTTPS)
}

// FixURL prepends https scheme to URL.
// Example: youtube.com/watch?v=x => https://youtube.com/watch?v=x
func FixURL(raw string) string {
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}

	u, err := url.Parse(schemeHTTPS + "://" + raw)
	if err != nil {
		return raw
	}

	return u.String()
}

// Normalize trims spaces, parses and returns the URL in string format.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.String()
}

// QueryParam returns the value of key in raw's query string.
// A malformed URL yields an empty value.
func QueryParam(raw, key string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return ""
	}

	return q.Get(key)
}
