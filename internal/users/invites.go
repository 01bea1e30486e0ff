package users

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInviteExists reports a still-pending invite for the same email.
	ErrInviteExists = errors.New("users: invite already pending")
	// ErrInviteNotFound reports an unknown or malformed invite token.
	ErrInviteNotFound = errors.New("users: invite not found")

	errMissingEmail = errors.New("users: invite email required")
	errMissingRole  = errors.New("users: invite role required")
)

// EncodeInviteToken derives the invite token carried in the invitation link.
func EncodeInviteToken(email string) string {
	return base64.StdEncoding.EncodeToString([]byte(email))
}

// DecodeInviteToken recovers the invited email from a token.
func DecodeInviteToken(token string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInviteNotFound
	}
	return string(decoded), nil
}

// CreateInvite records a pending invite and returns its token. A second
// invite for the same email while one is pending is a conflict.
func (s *Service) CreateInvite(ctx context.Context, email, role string) (string, error) {
	email = strings.ToLower(normalize(email))
	if email == "" {
		return "", errMissingEmail
	}
	role = normalize(role)
	if role == "" {
		return "", errMissingRole
	}

	invite := Invite{
		Token:     EncodeInviteToken(email),
		Email:     email,
		Role:      role,
		Status:    InviteStatusPending,
		CreatedAt: s.now(),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&invite)
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return "", ErrInviteExists
	}
	return invite.Token, nil
}

// ConfirmInvite marks the invite behind the token as confirmed and returns
// it. Confirming an already-confirmed invite is a no-op.
func (s *Service) ConfirmInvite(ctx context.Context, token string) (Invite, error) {
	if _, err := DecodeInviteToken(token); err != nil {
		return Invite{}, err
	}

	var invite Invite
	err := s.db.WithContext(ctx).
		Where("token = ?", token).
		Take(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Invite{}, ErrInviteNotFound
	}
	if err != nil {
		return Invite{}, err
	}

	if invite.Status == InviteStatusConfirmed {
		return invite, nil
	}

	confirmedAt := s.now()
	updates := map[string]interface{}{
		"status":       InviteStatusConfirmed,
		"confirmed_at": confirmedAt,
	}
	if err := s.db.WithContext(ctx).Model(&Invite{}).
		Where("token = ?", token).
		Updates(updates).Error; err != nil {
		return Invite{}, err
	}
	invite.Status = InviteStatusConfirmed
	invite.ConfirmedAt = &confirmedAt
	return invite, nil
}
