package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BootstrapGrant is the one-time allotment appended the first time a user is
// seen by the ledger.
const BootstrapGrant = 100

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	errMissingSessionID  = errors.New("session identifier is required")
	errMissingResolver   = errors.New("session resolver is required")
	noOpLogger           = zap.NewNop()

	// ErrAlreadyRedeemed reports that a checkout session was redeemed before.
	ErrAlreadyRedeemed = errors.New("credits: session already redeemed")
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
	opServiceNew = "credits.service.new"
	opAppend     = "credits.append"
	opBalance    = "credits.balance"
	opBootstrap  = "credits.bootstrap"
	opRedeem     = "credits.redeem"
	opDebit      = "credits.debit"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new ledger entries.
type IDProvider interface {
	NewID() (string, error)
}

// ResolveSession converts a checkout session id into the credit amount it is
// worth. Implementations talk to the payment collaborator and the pricing
// catalog; their errors pass through Redeem untranslated.
type ResolveSession func(ctx context.Context, sessionID string) (int64, error)

// ServiceConfig describes the dependencies required by the ledger service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns the append-only credit ledger and the used-session record.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the ledger service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
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
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Append persists one immutable entry. Callers choose the sign of the delta;
// the ledger imposes no precondition on it. A blank reference gets a fresh
// unique one.
func (s *Service) Append(ctx context.Context, userID string, delta int64, kind, reference string) error {
	if userID == "" {
		return newServiceError(opAppend, "missing_user_id", errMissingUserID)
	}
	entry, err := s.newEntry(userID, delta, kind, reference)
	if err != nil {
		s.logError(opAppend, "id_generation_failed", err, zap.String("user_id", userID))
		return newServiceError(opAppend, "id_generation_failed", err)
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opAppend, "insert_failed", err, zap.String("user_id", userID))
		return newServiceError(opAppend, "insert_failed", err)
	}
	return nil
}

// Balance returns the sum of all deltas recorded for the user. A storage
// failure is surfaced as an error; callers must treat the balance as unknown
// in that case, never as zero.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, newServiceError(opBalance, "missing_user_id", errMissingUserID)
	}

	var total *int64
	err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Where("user_id = ?", userID).
		Select("SUM(delta)").
		Scan(&total).Error
	if err != nil {
		s.logError(opBalance, "query_failed", err, zap.String("user_id", userID))
		return 0, newServiceError(opBalance, "query_failed", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// EnsureBootstrapped appends the one-time starting grant for a user that has
// never been seen before. The grant row carries a deterministic reference, so
// repeated and concurrent calls collapse onto a single conflict-ignored
// insert rather than a check-then-act sequence.
func (s *Service) EnsureBootstrapped(ctx context.Context, userID string) error {
	if userID == "" {
		return newServiceError(opBootstrap, "missing_user_id", errMissingUserID)
	}
	entry, err := s.newEntry(userID, BootstrapGrant, KindBootstrap, bootstrapReference(userID))
	if err != nil {
		s.logError(opBootstrap, "id_generation_failed", err, zap.String("user_id", userID))
		return newServiceError(opBootstrap, "id_generation_failed", err)
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry)
	if result.Error != nil {
		s.logError(opBootstrap, "insert_failed", result.Error, zap.String("user_id", userID))
		return newServiceError(opBootstrap, "insert_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("bootstrap grant issued",
			zap.String("user_id", userID),
			zap.Int64("delta", BootstrapGrant))
	}
	return nil
}

// Redeem converts one completed checkout session into ledger credit, at most
// once per session id. The resolver is consulted only when the session has
// not been consumed yet; its errors (unknown session, payment incomplete,
// unknown price) pass through unchanged. The used-session record and the
// grant entry are written in a single transaction, so a failure leaves no
// partial side effects.
func (s *Service) Redeem(ctx context.Context, userID, sessionID string, resolve ResolveSession) (int64, error) {
	if userID == "" {
		return 0, newServiceError(opRedeem, "missing_user_id", errMissingUserID)
	}
	if sessionID == "" {
		return 0, newServiceError(opRedeem, "missing_session_id", errMissingSessionID)
	}
	if resolve == nil {
		return 0, newServiceError(opRedeem, "missing_resolver", errMissingResolver)
	}

	var existing UsedSession
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Take(&existing).Error
	if err == nil {
		return 0, ErrAlreadyRedeemed
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRedeem, "session_lookup_failed", err, zap.String("session_id", sessionID))
		return 0, newServiceError(opRedeem, "session_lookup_failed", err)
	}

	grantAmount, err := resolve(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	entry, err := s.newEntry(userID, grantAmount, KindPurchase, sessionReference(sessionID))
	if err != nil {
		s.logError(opRedeem, "id_generation_failed", err, zap.String("session_id", sessionID))
		return 0, newServiceError(opRedeem, "id_generation_failed", err)
	}

	redeemed := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		consumed := UsedSession{SessionID: sessionID, ConsumedAt: s.clock().UTC()}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&consumed)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Another request consumed the session between the pre-check and
			// this insert.
			return nil
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		redeemed = true
		return nil
	})
	if txErr != nil {
		s.logError(opRedeem, "persistence_failed", txErr,
			zap.String("user_id", userID),
			zap.String("session_id", sessionID))
		return 0, newServiceError(opRedeem, "persistence_failed", txErr)
	}
	if !redeemed {
		return 0, ErrAlreadyRedeemed
	}

	s.logger.Info("checkout session redeemed",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.Int64("credits_granted", grantAmount))
	return grantAmount, nil
}

// Debit appends a negative entry for a completed piece of work. The balance
// is re-read inside the same transaction; going negative is permitted (the
// work already happened) but logged.
func (s *Service) Debit(ctx context.Context, userID string, cost int64, kind string) error {
	if userID == "" {
		return newServiceError(opDebit, "missing_user_id", errMissingUserID)
	}
	entry, err := s.newEntry(userID, -cost, kind, "")
	if err != nil {
		s.logError(opDebit, "id_generation_failed", err, zap.String("user_id", userID))
		return newServiceError(opDebit, "id_generation_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total *int64
		if err := tx.Model(&Entry{}).
			Where("user_id = ?", userID).
			Select("SUM(delta)").
			Scan(&total).Error; err != nil {
			return err
		}
		balance := int64(0)
		if total != nil {
			balance = *total
		}
		if balance < cost {
			s.logger.Warn("debit drives balance negative",
				zap.String("user_id", userID),
				zap.Int64("balance", balance),
				zap.Int64("cost", cost))
		}
		return tx.Create(&entry).Error
	})
	if txErr != nil {
		s.logError(opDebit, "insert_failed", txErr, zap.String("user_id", userID))
		return newServiceError(opDebit, "insert_failed", txErr)
	}
	return nil
}

func (s *Service) newEntry(userID string, delta int64, kind, reference string) (Entry, error) {
	if reference == "" {
		id, err := s.idProvider.NewID()
		if err != nil {
			return Entry{}, err
		}
		reference = id
	}
	entryID, err := s.idProvider.NewID()
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		EntryID:   entryID,
		UserID:    userID,
		Delta:     delta,
		Kind:      kind,
		Reference: reference,
		CreatedAt: s.clock().UTC(),
	}, nil
}

func bootstrapReference(userID string) string {
	return "bootstrap:" + userID
}

func sessionReference(sessionID string) string {
	return "session:" + sessionID
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("credits service error", attrs...)
}
