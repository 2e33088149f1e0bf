// Package metrics registers the prometheus instruments for the
// authorization server core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthorizationCodesIssued counts codes created on user consent.
	AuthorizationCodesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oauth_authorization_codes_issued_total",
		Help: "Authorization codes issued after user consent.",
	})

	// TokensIssued counts successful token responses by grant type.
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_tokens_issued_total",
		Help: "Access tokens issued, labelled by grant type.",
	}, []string{"grant_type"})

	// TokensRevoked counts revocations by token type.
	TokensRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_tokens_revoked_total",
		Help: "Tokens revoked, labelled by token type.",
	}, []string{"token_type"})

	// GrantFailures counts protocol errors returned by the token endpoint.
	GrantFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_grant_failures_total",
		Help: "Token endpoint failures, labelled by OAuth error code.",
	}, []string{"error"})
)
