package transcription

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/verbatimlab/verbatim/backend/internal/credits"
	"go.uber.org/zap"
)

// CostPerRequest is the fixed ledger debit for one successful transcription.
const CostPerRequest = 10

// MaxUploadBytes caps accepted audio payloads.
const MaxUploadBytes = 50 << 20

var allowedExtensions = map[string]struct{}{
	".mp3": {},
	".wav": {},
	".m4a": {},
	".ogg": {},
}

var (
	errMissingLedger = errors.New("credit ledger is required")
	errMissingClient = errors.New("transcription client is required")
	errMissingUserID = errors.New("user identifier is required")
	noOpLogger       = zap.NewNop()

	// ErrUnsupportedFormat reports a file extension outside the allow-list.
	ErrUnsupportedFormat = errors.New("transcription: unsupported audio format")
	// ErrFileTooLarge reports an upload above MaxUploadBytes.
	ErrFileTooLarge = errors.New("transcription: file exceeds size limit")
	// ErrEmptyUpload reports a missing or empty audio payload.
	ErrEmptyUpload = errors.New("transcription: no audio uploaded")
	// ErrInsufficientCredits reports a balance below the per-request cost.
	ErrInsufficientCredits = errors.New("transcription: insufficient credits")
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
	opServiceNew = "transcription.service.new"
	opTranscribe = "transcription.transcribe"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// CreditLedger is the slice of the ledger the request flow needs.
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, cost int64, kind string) error
}

// Options are the caller-supplied transcription parameters; blank fields take
// the documented defaults.
type Options struct {
	Model    string
	Language string
	Prompt   string
	Format   string
}

// ServiceConfig describes the dependencies of the request flow.
type ServiceConfig struct {
	Ledger         CreditLedger
	Client         Client
	EnforceBalance bool
	// Defaults fill request options the caller leaves blank. Blank fields
	// here fall back to the package defaults.
	Defaults Options
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service gates and accounts for transcription requests.
type Service struct {
	ledger         CreditLedger
	client         Client
	enforceBalance bool
	defaults       Options
	clock          func() time.Time
	logger         *zap.Logger
}

// NewService constructs the request flow service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Ledger == nil {
		return nil, newServiceError(opServiceNew, "missing_ledger", errMissingLedger)
	}
	if cfg.Client == nil {
		return nil, newServiceError(opServiceNew, "missing_client", errMissingClient)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	defaults := cfg.Defaults
	if defaults.Model == "" {
		defaults.Model = DefaultModel
	}
	if defaults.Language == "" {
		defaults.Language = DefaultLanguage
	}
	if defaults.Format == "" {
		defaults.Format = DefaultFormat
	}

	return &Service{
		ledger:         cfg.Ledger,
		client:         cfg.Client,
		enforceBalance: cfg.EnforceBalance,
		defaults:       defaults,
		clock:          clock,
		logger:         logger,
	}, nil
}

// Transcribe validates the upload, forwards it to the collaborator, and
// debits the ledger only after the collaborator succeeds. A collaborator
// failure never charges the user. With balance enforcement on (the default
// configuration), requests are rejected up front when the balance cannot
// cover the cost.
func (s *Service) Transcribe(ctx context.Context, userID string, audio []byte, filenameHint string, opts Options) (Result, error) {
	if userID == "" {
		return Result{}, newServiceError(opTranscribe, "missing_user_id", errMissingUserID)
	}
	if len(audio) == 0 {
		return Result{}, ErrEmptyUpload
	}

	extension := strings.ToLower(filepath.Ext(filenameHint))
	if _, ok := allowedExtensions[extension]; !ok {
		return Result{}, ErrUnsupportedFormat
	}
	if len(audio) > MaxUploadBytes {
		return Result{}, ErrFileTooLarge
	}

	if s.enforceBalance {
		balance, err := s.ledger.Balance(ctx, userID)
		if err != nil {
			s.logError(opTranscribe, "balance_check_failed", err, zap.String("user_id", userID))
			return Result{}, newServiceError(opTranscribe, "balance_check_failed", err)
		}
		if balance < CostPerRequest {
			return Result{}, ErrInsufficientCredits
		}
	}

	request := Request{
		Audio:    audio,
		Filename: filenameHint,
		Model:    opts.Model,
		Language: opts.Language,
		Prompt:   opts.Prompt,
		Format:   opts.Format,
	}
	if request.Model == "" {
		request.Model = s.defaults.Model
	}
	if request.Language == "" {
		request.Language = s.defaults.Language
	}
	if request.Format == "" {
		request.Format = s.defaults.Format
	}

	started := s.clock()
	result, err := s.client.Transcribe(ctx, request)
	if err != nil {
		s.logError(opTranscribe, "upstream_failed", err,
			zap.String("user_id", userID),
			zap.String("model", request.Model))
		return Result{}, newServiceError(opTranscribe, "upstream_failed", err)
	}

	if err := s.ledger.Debit(ctx, userID, CostPerRequest, credits.KindTranscription); err != nil {
		// The transcript exists; losing the debit is an accounting error, not
		// a reason to withhold the result from the user.
		s.logError(opTranscribe, "debit_failed", err, zap.String("user_id", userID))
		return result, nil
	}

	s.logger.Info("transcription completed",
		zap.String("user_id", userID),
		zap.String("model", request.Model),
		zap.Duration("elapsed", s.clock().Sub(started)))
	return result, nil
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
	s.logger.Error("transcription service error", attrs...)
}
