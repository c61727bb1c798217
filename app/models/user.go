package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// User is a local mirror of an identity-provider account. The provider owns
// the identity; this row only backs local queries (e.g. checkout email).
type User struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ExternalUserID  string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_user_id" validate:"required,max=191"`
	Email           string    `gorm:"type:varchar(200);not null;default:''" json:"email" validate:"omitempty,email,max=200"`
	DisplayName     *string   `gorm:"type:varchar(200);default:null" json:"display_name"`
	ProfileImageURL *string   `gorm:"type:varchar(500);default:null" json:"profile_image_url" validate:"omitempty,max=500"`
	LastSyncedAt    time.Time `gorm:"type:timestamp;not null" json:"last_synced_at"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// SameProfile reports whether the mirrored profile fields are unchanged.
func (u *User) SameProfile(other *User) bool {
	return u.Email == other.Email &&
		derefString(u.DisplayName) == derefString(other.DisplayName) &&
		derefString(u.ProfileImageURL) == derefString(other.ProfileImageURL)
}

// Anonymize replaces identifying fields for a soft-deleted account.
func (u *User) Anonymize() {
	u.Email = fmt.Sprintf("deleted_%s@example.com", strings.TrimSpace(u.ExternalUserID))
	name := "Deleted User"
	u.DisplayName = &name
	u.ProfileImageURL = nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
