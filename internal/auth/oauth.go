package auth

import (
	"errors"
	"net/url"
	"strings"
)

// Provider identifies a supported social-login backend.
type Provider string

// The closed set of social-login providers.
const (
	ProviderGoogle  Provider = "google"
	ProviderTwitter Provider = "twitter"
)

// ErrUnknownProvider reports a provider outside the supported set.
var ErrUnknownProvider = errors.New("auth: unknown oauth provider")

var errMissingRedirectURL = errors.New("auth: oauth redirect url required")

// ParseProvider validates a provider name from user input.
func ParseProvider(value string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(value))) {
	case ProviderGoogle:
		return ProviderGoogle, nil
	case ProviderTwitter:
		return ProviderTwitter, nil
	default:
		return "", ErrUnknownProvider
	}
}

type providerEndpoint struct {
	authorizeURL string
	scopes       string
}

var providerEndpoints = map[Provider]providerEndpoint{
	ProviderGoogle: {
		authorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
		scopes:       "openid email profile",
	},
	ProviderTwitter: {
		authorizeURL: "https://twitter.com/i/oauth2/authorize",
		scopes:       "users.read tweet.read",
	},
}

// OAuthDirectorConfig holds per-provider client identifiers and the shared
// callback location.
type OAuthDirectorConfig struct {
	ClientIDs   map[Provider]string
	RedirectURL string
}

// OAuthDirector builds authorization redirect URLs for the supported
// providers through a single dispatch point.
type OAuthDirector struct {
	clientIDs   map[Provider]string
	redirectURL string
}

// NewOAuthDirector constructs the director with validated configuration.
func NewOAuthDirector(cfg OAuthDirectorConfig) (*OAuthDirector, error) {
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errMissingRedirectURL
	}
	clientIDs := make(map[Provider]string, len(cfg.ClientIDs))
	for provider, clientID := range cfg.ClientIDs {
		if strings.TrimSpace(clientID) != "" {
			clientIDs[provider] = clientID
		}
	}
	return &OAuthDirector{
		clientIDs:   clientIDs,
		redirectURL: cfg.RedirectURL,
	}, nil
}

// BeginOAuth returns the authorization URL the client should be redirected
// to. Providers outside the closed set, and providers without a configured
// client id, are rejected.
func (d *OAuthDirector) BeginOAuth(provider Provider, state string) (string, error) {
	endpoint, ok := providerEndpoints[provider]
	if !ok {
		return "", ErrUnknownProvider
	}
	clientID, ok := d.clientIDs[provider]
	if !ok {
		return "", ErrUnknownProvider
	}

	query := url.Values{}
	query.Set("client_id", clientID)
	query.Set("redirect_uri", d.redirectURL)
	query.Set("response_type", "code")
	query.Set("scope", endpoint.scopes)
	if state != "" {
		query.Set("state", state)
	}
	return endpoint.authorizeURL + "?" + query.Encode(), nil
}
