package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingCatalog  = errors.New("pricing catalog is required")
	errMissingProvider = errors.New("payment provider is required")
	errMissingPriceID  = errors.New("price identifier is required")
	noOpLogger         = zap.NewNop()

	// ErrUnknownPrice reports a price identifier outside the catalog.
	ErrUnknownPrice = errors.New("billing: unknown price identifier")
	// ErrPaymentIncomplete reports a session whose payment has not settled.
	ErrPaymentIncomplete = errors.New("billing: payment not completed")
)

// ServiceError carries an operation-scoped failure code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "billing.service.new"
	opCheckout   = "billing.checkout"
	opResolve    = "billing.resolve_session"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the billing service.
type ServiceConfig struct {
	Catalog  *Catalog
	Provider PaymentProvider
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service validates purchases against the catalog and drives the payment
// collaborator.
type Service struct {
	catalog  *Catalog
	provider PaymentProvider
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService constructs the billing service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Catalog == nil {
		return nil, newServiceError(opServiceNew, "missing_catalog", errMissingCatalog)
	}
	if cfg.Provider == nil {
		return nil, newServiceError(opServiceNew, "missing_provider", errMissingProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		catalog:  cfg.Catalog,
		provider: cfg.Provider,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Catalog exposes the pricing catalog for listing.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Checkout opens a checkout session for a cataloged price. Unknown prices
// fail before the payment collaborator is contacted.
func (s *Service) Checkout(ctx context.Context, priceID string) (string, error) {
	if priceID == "" {
		return "", newServiceError(opCheckout, "missing_price_id", errMissingPriceID)
	}
	if _, ok := s.catalog.CreditsForPrice(priceID); !ok {
		return "", ErrUnknownPrice
	}

	sessionID, err := s.provider.CreateCheckoutSession(ctx, priceID)
	if err != nil {
		s.logger.Error("checkout session creation failed",
			zap.String("operation", opCheckout),
			zap.String("price_id", priceID),
			zap.Error(err))
		return "", newServiceError(opCheckout, "provider_failed", err)
	}

	s.logger.Info("checkout session created",
		zap.String("price_id", priceID),
		zap.String("session_id", sessionID))
	return sessionID, nil
}

// ResolveSession validates a completed checkout session and returns the
// credit amount it is worth. It is handed to the ledger's Redeem operation,
// which calls it only for sessions that have not been consumed.
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (int64, error) {
	detail, err := s.provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return 0, err
		}
		s.logger.Error("session retrieval failed",
			zap.String("operation", opResolve),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return 0, newServiceError(opResolve, "provider_failed", err)
	}
	if !detail.Paid {
		return 0, ErrPaymentIncomplete
	}
	creditAmount, ok := s.catalog.CreditsForPrice(detail.PriceID)
	if !ok {
		return 0, ErrUnknownPrice
	}
	return creditAmount, nil
}
