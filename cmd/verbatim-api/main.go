package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/verbatimlab/verbatim/backend/internal/auth"
	"github.com/verbatimlab/verbatim/backend/internal/billing"
	"github.com/verbatimlab/verbatim/backend/internal/config"
	"github.com/verbatimlab/verbatim/backend/internal/credits"
	"github.com/verbatimlab/verbatim/backend/internal/database"
	"github.com/verbatimlab/verbatim/backend/internal/logging"
	"github.com/verbatimlab/verbatim/backend/internal/server"
	"github.com/verbatimlab/verbatim/backend/internal/transcription"
	"github.com/verbatimlab/verbatim/backend/internal/users"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "verbatim-api",
		Short: "Verbatim transcription backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("twitter-client-id", defaults.GetString("twitter.client_id"), "Twitter OAuth client ID")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("site-url", defaults.GetString("site.url"), "Public site URL used for checkout redirects")
	cmd.PersistentFlags().String("transcription-model", defaults.GetString("transcription.model"), "Default transcription model")
	cmd.PersistentFlags().String("transcription-language", defaults.GetString("transcription.language"), "Default transcription language")
	cmd.PersistentFlags().Bool("enforce-balance", defaults.GetBool("transcription.enforce_balance"), "Reject transcriptions when credits cannot cover the cost")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "twitter.client_id", "twitter-client-id")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "site.url", "site-url")
	bindFlag(cmd, "transcription.model", "transcription-model")
	bindFlag(cmd, "transcription.language", "transcription-language")
	bindFlag(cmd, "transcription.enforce_balance", "enforce-balance")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "verbatim-auth",
		Audience:      "verbatim-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience:       appConfig.GoogleClientID,
		JWKSURL:        appConfig.GoogleJWKSURL,
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	oauthDirector, err := auth.NewOAuthDirector(auth.OAuthDirectorConfig{
		ClientIDs: map[auth.Provider]string{
			auth.ProviderGoogle:  appConfig.GoogleClientID,
			auth.ProviderTwitter: appConfig.TwitterClientID,
		},
		RedirectURL: appConfig.OAuthRedirect,
	})
	if err != nil {
		return err
	}

	identityService, err := users.NewService(users.ServiceConfig{
		Database: db,
	})
	if err != nil {
		return err
	}

	ledgerService, err := credits.NewService(credits.ServiceConfig{
		Database:   db,
		IDProvider: credits.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	stripeProvider, err := billing.NewStripeProvider(billing.StripeProviderConfig{
		SecretKey: appConfig.StripeSecretKey,
		SiteURL:   appConfig.SiteURL,
	})
	if err != nil {
		return err
	}

	billingService, err := billing.NewService(billing.ServiceConfig{
		Catalog:  billing.DefaultCatalog(),
		Provider: stripeProvider,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	openAIClient, err := transcription.NewOpenAIClient(transcription.OpenAIClientConfig{
		APIKey:  appConfig.OpenAIAPIKey,
		BaseURL: appConfig.OpenAIBaseURL,
	})
	if err != nil {
		return err
	}

	transcriptionService, err := transcription.NewService(transcription.ServiceConfig{
		Ledger:         ledgerService,
		Client:         openAIClient,
		EnforceBalance: appConfig.EnforceBalance,
		Defaults: transcription.Options{
			Model:    appConfig.Model,
			Language: appConfig.Language,
			Format:   appConfig.Format,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		GoogleVerifier: googleVerifier,
		TokenManager:   tokenManager,
		Identities:     identityService,
		Ledger:         ledgerService,
		Billing:        billingService,
		Transcriber:    transcriptionService,
		OAuth:          oauthDirector,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
