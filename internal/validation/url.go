// Package validation checks connection strings and URLs supplied by
// operators before anything tries to connect with them.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// Error names the offending field. It never echoes the value: connection
// strings carry passwords.
type Error struct {
	Field   string
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateURL checks that urlString is an absolute http or https URL.
// Empty input is allowed.
func ValidateURL(urlString, fieldName string, requireHTTPS bool) error {
	if urlString == "" {
		return nil
	}

	parsedURL, err := url.Parse(urlString)
	if err != nil {
		return Error{Field: fieldName, Message: "invalid URL format"}
	}
	if parsedURL.Scheme == "" {
		return Error{Field: fieldName, Message: "URL must include a scheme (http:// or https://)"}
	}
	if parsedURL.Host == "" {
		return Error{Field: fieldName, Message: "URL must include a host"}
	}

	scheme := strings.ToLower(parsedURL.Scheme)
	if requireHTTPS && scheme != "https" {
		return Error{Field: fieldName, Message: "URL must use HTTPS"}
	}
	if scheme != "http" && scheme != "https" {
		return Error{Field: fieldName, Message: "URL scheme must be http or https"}
	}
	return nil
}
