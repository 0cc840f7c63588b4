package models

import "time"

// CostRecord is one billed completion call. Rows are append-only; the sum
// over a trailing window per user drives model tier selection.
type CostRecord struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	UserID           string    `gorm:"size:32;not null;index:idx_cost_user_time"`
	DisplayName      string    `gorm:"size:128"`
	Amount           float64   `gorm:"not null"`
	Model            string    `gorm:"size:64;not null"`
	PromptTokens     int       `gorm:"not null;default:0"`
	CompletionTokens int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"index:idx_cost_user_time"`
}

// UserSpend is an aggregate row of the cost breakdown.
type UserSpend struct {
	UserID      string
	DisplayName string
	Total       float64
	Calls       int64
}
