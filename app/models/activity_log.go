package models

import "time"

const (
	ActivitySignUp        = "sign_up"
	ActivityUpdateAccount = "update_account"
	ActivityDeleteAccount = "delete_account"
)

// ActivityLog records account-level events keyed by the external user id.
type ActivityLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ExternalUserID string    `gorm:"type:varchar(191);not null;index" json:"external_user_id"`
	Action         string    `gorm:"type:varchar(64);not null;index" json:"action"`
	Timestamp      time.Time `gorm:"type:timestamp;not null" json:"timestamp"`
	IPAddress      string    `gorm:"type:varchar(45);default:''" json:"ip_address"`
	Metadata       string    `gorm:"type:text" json:"metadata"`
}
