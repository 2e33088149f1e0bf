package oauth

import (
	"fmt"
	"net/url"
)

// ValidateRedirectURI checks a redirect URI at registration time: it must be
// an absolute http(s) URI without a fragment.
func ValidateRedirectURI(raw string) error {
	if raw == "" {
		return fmt.Errorf("redirect URI must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse redirect URI: %w", err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("redirect URI %q must be absolute", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("redirect URI %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("redirect URI %q is missing a host", raw)
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect URI %q must not contain a fragment", raw)
	}
	return nil
}

// MatchRedirectURI reports whether uri exactly matches one of the registered
// URIs. No prefix or wildcard matching: https://a.com/cb does not satisfy a
// registration of https://a.com/cb/.
func MatchRedirectURI(registered []string, uri string) bool {
	if uri == "" {
		return false
	}
	for _, r := range registered {
		if r == uri {
			return true
		}
	}
	return false
}
