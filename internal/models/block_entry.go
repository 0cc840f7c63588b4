package models

import "time"

// BlockEntry records a moderator blocking or unblocking a user. The most
// recent entry per TargetUserID decides whether the user is blocked.
type BlockEntry struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	ModeratorID   string    `gorm:"size:32;not null"`
	ModeratorName string    `gorm:"size:128"`
	TargetUserID  string    `gorm:"size:32;not null;index"`
	IsBlocked     bool      `gorm:"not null"`
	CreatedAt     time.Time `gorm:"index"`
}
