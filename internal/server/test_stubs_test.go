package server

import (
	contextpkg "context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/verbatimlab/verbatim/backend/internal/auth"
	"github.com/verbatimlab/verbatim/backend/internal/billing"
	"github.com/verbatimlab/verbatim/backend/internal/credits"
	"github.com/verbatimlab/verbatim/backend/internal/transcription"
	"github.com/verbatimlab/verbatim/backend/internal/users"
)

type stubVerifier struct {
	claims auth.GoogleClaims
	err    error
}

func (v stubVerifier) Verify(ctx contextpkg.Context, token string) (auth.GoogleClaims, error) {
	return v.claims, v.err
}

type stubTokenManager struct {
	issuedToken string
	issueErr    error
	session     auth.Session
	validateErr error
}

func (m stubTokenManager) IssueBackendToken(ctx contextpkg.Context, userID, email string) (string, int64, error) {
	return m.issuedToken, 1800, m.issueErr
}

func (m stubTokenManager) ValidateToken(token string) (auth.Session, error) {
	return m.session, m.validateErr
}

type stubIdentities struct {
	userID      string
	resolveErr  error
	inviteToken string
	inviteErr   error
	invite      users.Invite
	confirmErr  error
}

func (s stubIdentities) ResolveCanonicalUserID(ctx contextpkg.Context, provider auth.Provider, claims auth.GoogleClaims) (string, error) {
	return s.userID, s.resolveErr
}

func (s stubIdentities) CreateInvite(ctx contextpkg.Context, email, role string) (string, error) {
	return s.inviteToken, s.inviteErr
}

func (s stubIdentities) ConfirmInvite(ctx contextpkg.Context, token string) (users.Invite, error) {
	return s.invite, s.confirmErr
}

type stubLedger struct {
	balance        int64
	balanceErr     error
	bootstrapCalls int
	bootstrapErr   error
	redeemGranted  int64
	redeemErr      error
	redeemCalls    int
}

func (l *stubLedger) Balance(ctx contextpkg.Context, userID string) (int64, error) {
	return l.balance, l.balanceErr
}

func (l *stubLedger) EnsureBootstrapped(ctx contextpkg.Context, userID string) error {
	l.bootstrapCalls++
	return l.bootstrapErr
}

func (l *stubLedger) Redeem(ctx contextpkg.Context, userID, sessionID string, resolve credits.ResolveSession) (int64, error) {
	l.redeemCalls++
	if l.redeemErr != nil {
		return 0, l.redeemErr
	}
	return l.redeemGranted, nil
}

type stubBilling struct {
	checkoutSessionID string
	checkoutErr       error
	resolved          int64
	resolveErr        error
}

func (b stubBilling) Checkout(ctx contextpkg.Context, priceID string) (string, error) {
	return b.checkoutSessionID, b.checkoutErr
}

func (b stubBilling) ResolveSession(ctx contextpkg.Context, sessionID string) (int64, error) {
	return b.resolved, b.resolveErr
}

func (b stubBilling) Catalog() *billing.Catalog {
	return billing.DefaultCatalog()
}

type stubTranscriber struct {
	result transcription.Result
	err    error
}

func (t stubTranscriber) Transcribe(ctx contextpkg.Context, userID string, audio []byte, filenameHint string, opts transcription.Options) (transcription.Result, error) {
	return t.result, t.err
}

type stubOAuth struct {
	redirect string
	err      error
}

func (o stubOAuth) BeginOAuth(provider auth.Provider, state string) (string, error) {
	return o.redirect, o.err
}

type routerOverrides struct {
	verifier    GoogleVerifier
	tokens      BackendTokenManager
	identities  IdentityService
	ledger      CreditLedger
	billing     BillingService
	transcriber Transcriber
	oauth       OAuthDirector
}

func newTestRouter(t *testing.T, overrides routerOverrides) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deps := Dependencies{
		GoogleVerifier: overrides.verifier,
		TokenManager:   overrides.tokens,
		Identities:     overrides.identities,
		Ledger:         overrides.ledger,
		Billing:        overrides.billing,
		Transcriber:    overrides.transcriber,
		OAuth:          overrides.oauth,
	}
	if deps.GoogleVerifier == nil {
		deps.GoogleVerifier = stubVerifier{claims: auth.GoogleClaims{Subject: "user-1"}}
	}
	if deps.TokenManager == nil {
		deps.TokenManager = stubTokenManager{
			issuedToken: "backend-token",
			session:     auth.Session{UserID: "user-1", Email: "user@example.com"},
		}
	}
	if deps.Identities == nil {
		deps.Identities = stubIdentities{userID: "user-1"}
	}
	if deps.Ledger == nil {
		deps.Ledger = &stubLedger{balance: 100}
	}
	if deps.Billing == nil {
		deps.Billing = stubBilling{checkoutSessionID: "sess_1"}
	}
	if deps.Transcriber == nil {
		deps.Transcriber = stubTranscriber{result: transcription.Result{Text: "ok"}}
	}
	if deps.OAuth == nil {
		deps.OAuth = stubOAuth{redirect: "https://accounts.google.com/o/oauth2/v2/auth?client_id=x"}
	}

	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}
	return handler
}

func performRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func authorized(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer backend-token")
	return req
}
