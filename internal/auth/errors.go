package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials is returned when the issuer, client ID or client secret is empty.
	ErrMissingCredentials = errors.New("missing identity provider issuer, client ID or client secret")

	// ErrMissingIDToken is returned when the token response carries no id_token.
	ErrMissingIDToken = errors.New("identity provider did not return an id_token")

	// ErrMissingClaims is returned when the verified id_token lacks a subject.
	ErrMissingClaims = errors.New("id_token missing required claims")
)

// Kind classifies why a connection access token could not be obtained.
type Kind string

const (
	// ConnectionMissing means the principal never linked the connection,
	// or the session holds no refresh token to exchange.
	ConnectionMissing Kind = "connection_missing"

	// ConnectionExpired means the linked grant was revoked or has expired.
	ConnectionExpired Kind = "connection_expired"

	// ProviderRejected covers every other refusal or failure of the provider.
	ProviderRejected Kind = "provider_rejected"
)

// Error codes surfaced to clients. Codes received from the identity
// provider are passed through as-is; these cover failures it never saw.
const (
	CodeMissingRefreshToken  = "missing_refresh_token"
	CodeFailedToExchange     = "failed_to_exchange_refresh_token"
	codeConnectionNotLinked  = "federated_connection_refresh_token_not_found"
	codeInvalidGrant         = "invalid_grant"
	messageConnectionMissing = "No linked account was found for this connection. Connect it to continue."
	messageConnectionExpired = "The linked account's authorization has expired or was revoked. Reconnect it to continue."
	messageProviderRejected  = "There was an error trying to exchange the refresh token for a connection access token."
)

// TokenError is returned by ConnectionExchanger when no access token can be
// issued. Message is safe to show to clients; ProviderCode is the identity
// provider's own error code.
type TokenError struct {
	Kind         Kind
	Message      string
	ProviderCode string
	Err          error
}

func newTokenError(kind Kind, code string, err error) *TokenError {
	msg := messageProviderRejected
	switch kind {
	case ConnectionMissing:
		msg = messageConnectionMissing
	case ConnectionExpired:
		msg = messageConnectionExpired
	}
	return &TokenError{Kind: kind, Message: msg, ProviderCode: code, Err: err}
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection token %s (%s): %v", e.Kind, e.ProviderCode, e.Err)
	}
	return fmt.Sprintf("connection token %s (%s)", e.Kind, e.ProviderCode)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// AsTokenError reports whether err is, or wraps, a *TokenError.
func AsTokenError(err error) (*TokenError, bool) {
	var te *TokenError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
