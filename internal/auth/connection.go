package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Token exchange parameters understood by the identity provider's token vault.
const (
	grantTypeConnectionToken  = "urn:auth0:params:oauth:grant-type:token-exchange:federated-connection-access-token"
	subjectTokenTypeRefresh   = "urn:ietf:params:oauth:token-type:refresh_token"
	requestedTokenTypeConnect = "http://auth0.com/oauth/token-type/federated-connection-access-token"
)

const defaultExchangeTimeout = 10 * time.Second

// ExchangerConfig configures a ConnectionExchanger.
type ExchangerConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Connection   string        // e.g. "spotify"
	Timeout      time.Duration // defaults to 10s
	Logger       *log.Logger
}

// ConnectionExchanger trades a session refresh token for an access token
// scoped to one federated connection. The identity provider refreshes the
// connection's own credential; nothing is cached here.
type ConnectionExchanger struct {
	tokenURL     string
	clientID     string
	clientSecret string
	connection   string
	httpClient   *http.Client
	logger       *log.Logger
}

// NewConnectionExchanger creates a ConnectionExchanger.
func NewConnectionExchanger(cfg ExchangerConfig) *ConnectionExchanger {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &ConnectionExchanger{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		connection:   cfg.Connection,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// Connection returns the connection name tokens are requested for.
func (e *ConnectionExchanger) Connection() string {
	return e.connection
}

// AccessTokenForConnection returns a fresh access token for the configured
// connection on behalf of the session that holds sessionToken.
// Every failure is a *TokenError.
func (e *ConnectionExchanger) AccessTokenForConnection(ctx context.Context, sessionToken *oauth2.Token) (*oauth2.Token, error) {
	if sessionToken == nil || sessionToken.RefreshToken == "" {
		return nil, newTokenError(ConnectionMissing, CodeMissingRefreshToken, nil)
	}

	cc := &clientcredentials.Config{
		ClientID:     e.clientID,
		ClientSecret: e.clientSecret,
		TokenURL:     e.tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"grant_type":           {grantTypeConnectionToken},
			"subject_token":        {sessionToken.RefreshToken},
			"subject_token_type":   {subjectTokenTypeRefresh},
			"requested_token_type": {requestedTokenTypeConnect},
			"connection":           {e.connection},
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	token, err := cc.Token(ctx)
	if err != nil {
		te := classify(err)
		e.logger.Warn("connection token exchange failed",
			"connection", e.connection,
			"kind", te.Kind,
			"code", te.ProviderCode,
			"err", err,
		)
		return nil, te
	}

	return token, nil
}

// classify maps an exchange failure onto a TokenError kind.
func classify(err error) *TokenError {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		// Transport failure, timeout or unparseable response.
		return newTokenError(ProviderRejected, CodeFailedToExchange, err)
	}

	code := re.ErrorCode
	switch code {
	case codeConnectionNotLinked:
		return newTokenError(ConnectionMissing, code, err)
	case codeInvalidGrant:
		return newTokenError(ConnectionExpired, code, err)
	case "":
		return newTokenError(ProviderRejected, CodeFailedToExchange, err)
	default:
		return newTokenError(ProviderRejected, code, err)
	}
}
