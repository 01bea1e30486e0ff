package credits

import (
	contextpkg "context"
	"errors"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Entry{}, &UsedSession{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   openTestDB(t),
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestBalanceSumsAllDeltasForUser(t *testing.T) {
	service := newTestService(t)
	ctx := contextpkg.Background()

	deltas := []int64{100, -10, 50, -10, -10}
	for _, delta := range deltas {
		if err := service.Append(ctx, "user-1", delta, KindPurchase, ""); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := service.Append(ctx, "user-2", 42, KindPurchase, ""); err != nil {
		t.Fatalf("append for second user failed: %v", err)
	}

	balance, err := service.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != 120 {
		t.Fatalf("expected balance 120, got %d", balance)
	}
}

func TestBalanceOfUnknownUserIsZero(t *testing.T) {
	service := newTestService(t)

	balance, err := service.Balance(contextpkg.Background(), "nobody")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected zero balance, got %d", balance)
	}
}

func TestEnsureBootstrappedGrantsExactlyOnce(t *testing.T) {
	service := newTestService(t)
	ctx := contextpkg.Background()

	for i := 0; i < 3; i++ {
		if err := service.EnsureBootstrapped(ctx, "user-1"); err != nil {
			t.Fatalf("bootstrap attempt %d failed: %v", i, err)
		}
	}

	balance, err := service.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != BootstrapGrant {
		t.Fatalf("expected a single bootstrap grant of %d, got balance %d", BootstrapGrant, balance)
	}
}

func TestEnsureBootstrappedConcurrentCallsGrantOnce(t *testing.T) {
	service := newTestService(t)
	ctx := contextpkg.Background()

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- service.EnsureBootstrapped(ctx, "fresh-user")
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent bootstrap failed: %v", err)
		}
	}

	var count int64
	if err := service.db.Model(&Entry{}).
		Where("user_id = ?", "fresh-user").
		Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one bootstrap entry, got %d", count)
	}
}

func TestRedeemGrantsCreditExactlyOnce(t *testing.T) {
	service := newTestService(t)
	ctx := contextpkg.Background()

	resolveCalls := 0
	resolve := func(ctx contextpkg.Context, sessionID string) (int64, error) {
		resolveCalls++
		return 50, nil
	}

	granted, err := service.Redeem(ctx, "user-1", "sess_abc", resolve)
	if err != nil {
		t.Fatalf("first redeem failed: %v", err)
	}
	if granted != 50 {
		t.Fatalf("expected 50 credits granted, got %d", granted)
	}

	_, err = service.Redeem(ctx, "user-1", "sess_abc", resolve)
	if !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("expected ErrAlreadyRedeemed, got %v", err)
	}
	if resolveCalls != 1 {
		t.Fatalf("resolver should not run for a consumed session, ran %d times", resolveCalls)
	}

	balance, err := service.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != 50 {
		t.Fatalf("expected balance 50 after repeat redeem, got %d", balance)
	}
}

func TestRedeemResolverFailureGrantsNothing(t *testing.T) {
	service := newTestService(t)
	ctx := contextpkg.Background()

	upstreamErr := errors.New("payment not completed")
	_, err := service.Redeem(ctx, "user-1", "sess_unpaid", func(ctx contextpkg.Context, sessionID string) (int64, error) {
		return 0, upstreamErr
	})
	if !errors.Is(err, upstreamErr) {
		t.Fatalf("expected resolver error to pass through, got %v", err)
	}

	balance, err := service.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected zero balance after failed redeem, got %d", balance)
	}

	var count int64
	if err := service.db.Model(&UsedSession{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed redeem must not consume the session, found %d records", count)
	}
}

func TestRedeemSessionReferenceBlocksStorageLevelReplay(t *testing.T) {
	service := newTestService(t)
	ctx := contextpkg.Background()

	if _, err := service.Redeem(ctx, "user-1", "sess_dup", func(ctx contextpkg.Context, sessionID string) (int64, error) {
		return 120, nil
	}); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}

	// Simulate a replay that slipped past the used-session record.
	err := service.Append(ctx, "user-1", 120, KindPurchase, "session:sess_dup")
	if err == nil {
		t.Fatalf("expected unique reference constraint to reject the replayed grant")
	}
}

func TestDebitAppendsNegativeEntry(t *testing.T) {
	service := newTestService(t)
	ctx := contextpkg.Background()

	if err := service.EnsureBootstrapped(ctx, "user-1"); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if err := service.Debit(ctx, "user-1", 10, KindTranscription); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	balance, err := service.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != BootstrapGrant-10 {
		t.Fatalf("expected balance %d, got %d", BootstrapGrant-10, balance)
	}
}

func TestLedgerScenarioBootstrapRedeemTranscribeRepeat(t *testing.T) {
	service := newTestService(t)
	ctx := contextpkg.Background()

	resolve := func(ctx contextpkg.Context, sessionID string) (int64, error) {
		return 50, nil
	}

	if err := service.EnsureBootstrapped(ctx, "user-1"); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	assertBalance(t, service, "user-1", 100)

	if _, err := service.Redeem(ctx, "user-1", "sess_abc", resolve); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	assertBalance(t, service, "user-1", 150)

	if err := service.Debit(ctx, "user-1", 10, KindTranscription); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	assertBalance(t, service, "user-1", 140)

	if _, err := service.Redeem(ctx, "user-1", "sess_abc", resolve); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("expected repeat redeem to be rejected, got %v", err)
	}
	assertBalance(t, service, "user-1", 140)
}

func assertBalance(t *testing.T, service *Service, userID string, expected int64) {
	t.Helper()
	balance, err := service.Balance(contextpkg.Background(), userID)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance != expected {
		t.Fatalf("expected balance %d, got %d", expected, balance)
	}
}
