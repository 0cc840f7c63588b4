package models

import "time"

// Approval states for a ThreadCreation.
const (
	ApprovalPending = "pending"
	ApprovalAllowed = "allowed"
)

// ThreadCreation records a conversation thread opened on behalf of a user.
// Recent rows feed the creation rate limit; a moderator can mark the latest
// row "allowed" to reset that limit.
type ThreadCreation struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"size:32;not null;index:idx_creation_user_time"`
	ThreadID  string    `gorm:"size:32"`
	Approval  string    `gorm:"size:16;not null;default:pending"`
	CreatedAt time.Time `gorm:"index:idx_creation_user_time"`
}
