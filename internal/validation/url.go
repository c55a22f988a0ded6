// Package validation checks operator-supplied endpoint URLs before any
// client is built from them.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// URLError names the configuration field whose URL was rejected.
type URLError struct {
	Field   string
	Message string
	URL     string
}

func (e URLError) Error() string {
	return fmt.Sprintf("%s: %s (url: %s)", e.Field, e.Message, e.URL)
}

// EndpointURL accepts an empty value or an absolute http(s) URL. With
// requireHTTPS only https is allowed, which keeps API keys off plain
// connections.
func EndpointURL(raw, field string, requireHTTPS bool) error {
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return URLError{Field: field, Message: "invalid URL format", URL: raw}
	}
	if parsed.Scheme == "" {
		return URLError{Field: field, Message: "URL must include a scheme (http:// or https://)", URL: raw}
	}
	if parsed.Host == "" {
		return URLError{Field: field, Message: "URL must include a host", URL: raw}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return URLError{Field: field, Message: "URL scheme must be http or https", URL: raw}
	}
	if requireHTTPS && scheme != "https" {
		return URLError{Field: field, Message: "URL must use HTTPS in production", URL: raw}
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return URLError{Field: field, Message: "URL must not contain a query or fragment", URL: raw}
	}
	return nil
}

// OriginURL is EndpointURL restricted to scheme and host, as used for the
// public base URL that Location headers are built from.
func OriginURL(raw, field string, requireHTTPS bool) error {
	if err := EndpointURL(raw, field, requireHTTPS); err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	parsed, _ := url.Parse(raw)
	if parsed.Path != "" && parsed.Path != "/" {
		return URLError{Field: field, Message: "base URL must not contain a path", URL: raw}
	}
	return nil
}
