package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/verbatimlab/verbatim/backend/internal/auth"
	"github.com/verbatimlab/verbatim/backend/internal/billing"
	"github.com/verbatimlab/verbatim/backend/internal/credits"
	"github.com/verbatimlab/verbatim/backend/internal/transcription"
	"github.com/verbatimlab/verbatim/backend/internal/users"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "verbatim_user_id"
	emailContextKey  = "verbatim_user_email"
)

var (
	errMissingGoogleVerifier = errors.New("google verifier dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingIdentities     = errors.New("identity service dependency required")
	errMissingLedger         = errors.New("credit ledger dependency required")
	errMissingBilling        = errors.New("billing service dependency required")
	errMissingTranscriber    = errors.New("transcription service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// GoogleVerifier validates Google ID tokens.
type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

// BackendTokenManager issues and validates backend session tokens.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, userID, email string) (string, int64, error)
	ValidateToken(token string) (auth.Session, error)
}

// IdentityService resolves canonical users and manages invites.
type IdentityService interface {
	ResolveCanonicalUserID(ctx context.Context, provider auth.Provider, claims auth.GoogleClaims) (string, error)
	CreateInvite(ctx context.Context, email, role string) (string, error)
	ConfirmInvite(ctx context.Context, token string) (users.Invite, error)
}

// CreditLedger is the ledger surface the handlers need.
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	EnsureBootstrapped(ctx context.Context, userID string) error
	Redeem(ctx context.Context, userID, sessionID string, resolve credits.ResolveSession) (int64, error)
}

// BillingService drives checkout and session resolution.
type BillingService interface {
	Checkout(ctx context.Context, priceID string) (string, error)
	ResolveSession(ctx context.Context, sessionID string) (int64, error)
	Catalog() *billing.Catalog
}

// Transcriber runs the gated transcription flow.
type Transcriber interface {
	Transcribe(ctx context.Context, userID string, audio []byte, filenameHint string, opts transcription.Options) (transcription.Result, error)
}

// OAuthDirector builds social-login redirects.
type OAuthDirector interface {
	BeginOAuth(provider auth.Provider, state string) (string, error)
}

// Dependencies wires the HTTP layer to the services behind it.
type Dependencies struct {
	GoogleVerifier GoogleVerifier
	TokenManager   BackendTokenManager
	Identities     IdentityService
	Ledger         CreditLedger
	Billing        BillingService
	Transcriber    Transcriber
	OAuth          OAuthDirector
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoogleVerifier == nil {
		return nil, errMissingGoogleVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Identities == nil {
		return nil, errMissingIdentities
	}
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	if deps.Billing == nil {
		return nil, errMissingBilling
	}
	if deps.Transcriber == nil {
		return nil, errMissingTranscriber
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		verifier:    deps.GoogleVerifier,
		tokens:      deps.TokenManager,
		identities:  deps.Identities,
		ledger:      deps.Ledger,
		billing:     deps.Billing,
		transcriber: deps.Transcriber,
		oauth:       deps.OAuth,
		logger:      logger,
	}

	router.POST("/auth/google", handler.handleGoogleAuth)
	router.GET("/auth/oauth/:provider", handler.handleBeginOAuth)
	router.GET("/pricing", handler.handlePricing)
	router.GET("/invite/confirm", handler.handleConfirmInvite)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/checkout", handler.handleCheckout)
	protected.GET("/redeem", handler.handleRedeem)
	protected.POST("/transcribe", handler.handleTranscribe)
	protected.GET("/credits", handler.handleCredits)
	protected.POST("/invite", handler.handleCreateInvite)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	verifier    GoogleVerifier
	tokens      BackendTokenManager
	identities  IdentityService
	ledger      CreditLedger
	billing     BillingService
	transcriber Transcriber
	oauth       OAuthDirector
	logger      *zap.Logger
}

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.identities.ResolveCanonicalUserID(c.Request.Context(), auth.ProviderGoogle, claims)
	if err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}

	// First sight of a user seeds the starting grant; repeat calls are no-ops.
	if err := h.ledger.EnsureBootstrapped(c.Request.Context(), userID); err != nil {
		h.logger.Error("bootstrap grant failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bootstrap_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), userID, claims.Email)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleBeginOAuth(c *gin.Context) {
	if h.oauth == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "oauth_not_configured"})
		return
	}
	provider, err := auth.ParseProvider(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_provider"})
		return
	}
	redirect, err := h.oauth.BeginOAuth(provider, c.Query("state"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_provider"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"redirectUrl": redirect})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	session, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, session.UserID)
	c.Set(emailContextKey, session.Email)
	c.Next()
}
