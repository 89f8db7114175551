// Package auth adapts the external session collaborator into a credential
// provider. This service never issues or verifies tokens itself; it fetches
// the caller's bearer token on demand and fails closed when none is held.
package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	errors "github.com/samitochi04/cameroon-marketplace-sub000/internal"
)

// CredentialProvider yields the bearer token for outbound calls. The token is
// fetched at call time, never cached, so an expired session surfaces as an
// Unauthenticated error instead of a stale-token failure downstream.
type CredentialProvider interface {
	Token(ctx context.Context) (string, *errors.AppError)
}

// TokenSource returns the raw bearer token currently held by the session
// collaborator, or an empty string when the user is signed out.
type TokenSource func(ctx context.Context) (string, error)

// StaticTokenSource wraps a fixed token, used by the CLI and tests.
func StaticTokenSource(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// ContextTokenSource reads the caller's bearer token from the request
// context, where the transport middleware placed it. Outbound calls then
// authenticate as the caller whose session they serve.
func ContextTokenSource() TokenSource {
	return func(ctx context.Context) (string, error) {
		return errors.BearerTokenFromContext(ctx), nil
	}
}

type JWTCredentialProvider struct {
	source TokenSource
	parser *jwt.Parser
	leeway time.Duration
	logger *slog.Logger
}

func NewJWTCredentialProvider(source TokenSource, logger *slog.Logger) *JWTCredentialProvider {
	return &JWTCredentialProvider{
		source: source,
		parser: jwt.NewParser(),
		leeway: 30 * time.Second,
		logger: logger,
	}
}

// Token fetches the current bearer token and rejects it locally when the exp
// claim has already passed. Signature verification belongs to the backend;
// the local expiry check just avoids sending a credential that is guaranteed
// to bounce.
func (p *JWTCredentialProvider) Token(ctx context.Context) (string, *errors.AppError) {
	raw, err := p.source(ctx)
	if err != nil {
		p.logger.Error("credential source failed", "error", err)
		return "", errors.ErrMissingToken
	}
	if raw == "" {
		return "", errors.ErrMissingToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := p.parser.ParseUnverified(raw, claims); err != nil {
		p.logger.Warn("bearer token is not a parsable JWT, passing through", "error", err)
		return raw, nil
	}

	exp, err := claims.GetExpirationTime()
	if err == nil && exp != nil && time.Now().After(exp.Time.Add(p.leeway)) {
		p.logger.Warn("bearer token expired", "expired_at", exp.Time)
		return "", errors.ErrTokenExpired
	}

	return raw, nil
}

// Subject extracts the sub claim from a bearer token, or empty when absent.
// Used by the transport layer to attribute sessions to a user.
func Subject(raw string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
