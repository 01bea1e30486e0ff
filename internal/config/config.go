package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "VERBATIM"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "verbatim.db"
	defaultLogLevel      = "info"
	defaultSiteURL       = "http://localhost:3000"
	defaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultTokenTTLMin   = 30
	defaultModel         = "whisper-1"
	defaultLanguage      = "en"
	defaultFormat        = "text"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	TokenTTL        time.Duration
	GoogleClientID  string
	GoogleJWKSURL   string
	TwitterClientID string
	OAuthRedirect   string
	SiteURL         string
	StripeSecretKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	Model           string
	Language        string
	Format          string
	EnforceBalance  bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("site.url", defaultSiteURL)
	configViper.SetDefault("openai.base_url", defaultOpenAIBaseURL)
	configViper.SetDefault("transcription.model", defaultModel)
	configViper.SetDefault("transcription.language", defaultLanguage)
	configViper.SetDefault("transcription.format", defaultFormat)
	configViper.SetDefault("transcription.enforce_balance", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTL:        time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		GoogleClientID:  configViper.GetString("google.client_id"),
		GoogleJWKSURL:   configViper.GetString("google.jwks_url"),
		TwitterClientID: configViper.GetString("twitter.client_id"),
		OAuthRedirect:   configViper.GetString("oauth.redirect_url"),
		SiteURL:         configViper.GetString("site.url"),
		StripeSecretKey: configViper.GetString("stripe.secret_key"),
		OpenAIAPIKey:    configViper.GetString("openai.api_key"),
		OpenAIBaseURL:   configViper.GetString("openai.base_url"),
		Model:           configViper.GetString("transcription.model"),
		Language:        configViper.GetString("transcription.language"),
		Format:          configViper.GetString("transcription.format"),
		EnforceBalance:  configViper.GetBool("transcription.enforce_balance"),
	}

	if cfg.OAuthRedirect == "" {
		cfg.OAuthRedirect = strings.TrimRight(cfg.SiteURL, "/") + "/auth/callback"
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.StripeSecretKey) == "" {
		return fmt.Errorf("stripe.secret_key is required")
	}
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	return nil
}
