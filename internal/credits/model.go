package credits

import "time"

// Entry kinds recorded in the ledger.
const (
	KindBootstrap     = "bootstrap"
	KindPurchase      = "purchase"
	KindTranscription = "transcription"
)

// Entry is one immutable signed movement on a user's credit balance. The
// balance of a user is the sum of all entry deltas for that user; entries are
// never updated or deleted.
type Entry struct {
	EntryID   string    `gorm:"column:entry_id;primaryKey;size:36;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index"`
	Delta     int64     `gorm:"column:delta;not null"`
	Kind      string    `gorm:"column:kind;size:32;not null"`
	Reference string    `gorm:"column:reference;size:190;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing ledger entries.
func (Entry) TableName() string {
	return "credit_entries"
}

// UsedSession marks a checkout session that has already been converted into
// ledger credit. The primary key makes redemption at-most-once at the storage
// layer.
type UsedSession struct {
	SessionID  string    `gorm:"column:session_id;primaryKey;size:190;not null"`
	ConsumedAt time.Time `gorm:"column:consumed_at;autoCreateTime"`
}

// TableName exposes the table backing consumed checkout sessions.
func (UsedSession) TableName() string {
	return "used_payment_sessions"
}
