package oauth

import "strings"

// Controlled scope vocabulary.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopePhone         = "phone"
	ScopeAddress       = "address"
	ScopeOfflineAccess = "offline_access"
)

var knownScopes = map[string]struct{}{
	ScopeOpenID:        {},
	ScopeProfile:       {},
	ScopeEmail:         {},
	ScopePhone:         {},
	ScopeAddress:       {},
	ScopeOfflineAccess: {},
}

// IsKnownScope reports whether s belongs to the controlled vocabulary.
func IsKnownScope(s string) bool {
	_, ok := knownScopes[s]
	return ok
}

// DefaultClientScopes returns the allowed-scope set applied to clients that
// register without specifying one.
func DefaultClientScopes() []string {
	return []string{ScopeOpenID, ScopeProfile, ScopeEmail}
}

// ParseScope splits a space-delimited scope string into a deduplicated,
// order-preserving slice. Empty input yields nil.
func ParseScope(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// FormatScope joins scopes back into the wire representation.
func FormatScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// IntersectScope returns the members of requested that also appear in allowed,
// preserving the requested order.
func IntersectScope(requested, allowed []string) []string {
	if len(requested) == 0 || len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range requested {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// HasScope reports whether scopes contains s.
func HasScope(scopes []string, s string) bool {
	for _, sc := range scopes {
		if sc == s {
			return true
		}
	}
	return false
}

// IsScopeSubset reports whether every member of sub appears in super.
func IsScopeSubset(sub, super []string) bool {
	for _, s := range sub {
		if !HasScope(super, s) {
			return false
		}
	}
	return true
}
