package users

import (
	"strings"
	"time"
)

// Identity maps a provider-specific login to a canonical user id.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Invite statuses.
const (
	InviteStatusPending   = "pending"
	InviteStatusConfirmed = "confirmed"
)

// Invite records one invited email address and the role it was offered.
type Invite struct {
	Token       string     `gorm:"column:token;primaryKey;size:512;not null"`
	Email       string     `gorm:"column:email;size:320;not null;uniqueIndex"`
	Role        string     `gorm:"column:role;size:64;not null"`
	Status      string     `gorm:"column:status;size:16;not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	ConfirmedAt *time.Time `gorm:"column:confirmed_at"`
}

// TableName exposes the table backing pending invites.
func (Invite) TableName() string {
	return "user_invites"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
