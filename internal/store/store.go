// Package store persists cost records, block entries, and thread creations
// behind a narrow set of operations so the storage engine stays swappable.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Store is the GORM-backed implementation of the ledger and registry
// storage used by billing, session, and bot.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a Store over an already-migrated database.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &Store{db: db, now: time.Now}, nil
}

// RecordCost appends a cost record. CreatedAt defaults to now.
func (s *Store) RecordCost(ctx context.Context, rec *models.CostRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("store: record cost: %w", err)
	}
	return nil
}

// TrailingSpend sums a user's cost records with CreatedAt in [from, to].
// Returns 0 when the user has no records in the window.
func (s *Store) TrailingSpend(ctx context.Context, userID string, from, to time.Time) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&models.CostRecord{}).
		Where("user_id = ? AND created_at >= ? AND created_at <= ?", userID, from, to).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("store: trailing spend: %w", err)
	}
	return total, nil
}

// CostBreakdown returns total spend per user, highest first, along with the
// grand total across all users.
func (s *Store) CostBreakdown(ctx context.Context) ([]models.UserSpend, float64, error) {
	var rows []models.UserSpend
	err := s.db.WithContext(ctx).Model(&models.CostRecord{}).
		Select("user_id, MAX(display_name) AS display_name, SUM(amount) AS total, COUNT(*) AS calls").
		Group("user_id").
		Order("total DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("store: cost breakdown: %w", err)
	}
	var grand float64
	for _, r := range rows {
		grand += r.Total
	}
	return rows, grand, nil
}

// Block appends a block entry for target.
func (s *Store) Block(ctx context.Context, moderatorID, moderatorName, targetUserID string) error {
	return s.appendBlockEntry(ctx, moderatorID, moderatorName, targetUserID, true)
}

// Unblock appends an unblock entry for target.
func (s *Store) Unblock(ctx context.Context, moderatorID, moderatorName, targetUserID string) error {
	return s.appendBlockEntry(ctx, moderatorID, moderatorName, targetUserID, false)
}

func (s *Store) appendBlockEntry(ctx context.Context, moderatorID, moderatorName, targetUserID string, blocked bool) error {
	entry := models.BlockEntry{
		ModeratorID:   moderatorID,
		ModeratorName: moderatorName,
		TargetUserID:  targetUserID,
		IsBlocked:     blocked,
		CreatedAt:     s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("store: block entry for %s: %w", targetUserID, err)
	}
	return nil
}

// IsBlocked reports whether the latest block entry for target is a block.
func (s *Store) IsBlocked(ctx context.Context, targetUserID string) (bool, error) {
	var latest models.BlockEntry
	err := s.db.WithContext(ctx).
		Where("target_user_id = ?", targetUserID).
		Order("created_at DESC, id DESC").
		First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is blocked: %w", err)
	}
	return latest.IsBlocked, nil
}

// BlockHistory returns every block entry for target, oldest first.
func (s *Store) BlockHistory(ctx context.Context, targetUserID string) ([]models.BlockEntry, error) {
	var entries []models.BlockEntry
	err := s.db.WithContext(ctx).
		Where("target_user_id = ?", targetUserID).
		Order("created_at, id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("store: block history: %w", err)
	}
	return entries, nil
}

// BlockedUsers returns the latest entry of every currently blocked user.
func (s *Store) BlockedUsers(ctx context.Context) ([]models.BlockEntry, error) {
	var entries []models.BlockEntry
	err := s.db.WithContext(ctx).
		Order("target_user_id, created_at, id").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("store: blocked users: %w", err)
	}

	latest := make(map[string]models.BlockEntry)
	var order []string
	for _, e := range entries {
		if _, seen := latest[e.TargetUserID]; !seen {
			order = append(order, e.TargetUserID)
		}
		latest[e.TargetUserID] = e
	}
	var out []models.BlockEntry
	for _, id := range order {
		if e := latest[id]; e.IsBlocked {
			out = append(out, e)
		}
	}
	return out, nil
}

// RecordCreation appends a thread creation record. CreatedAt defaults to now
// and Approval to pending.
func (s *Store) RecordCreation(ctx context.Context, rec *models.ThreadCreation) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.Approval == "" {
		rec.Approval = models.ApprovalPending
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("store: record creation: %w", err)
	}
	return nil
}

// RecentCreations returns a user's thread creations since the given time,
// newest first.
func (s *Store) RecentCreations(ctx context.Context, userID string, since time.Time) ([]models.ThreadCreation, error) {
	var recs []models.ThreadCreation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at DESC, id DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("store: recent creations: %w", err)
	}
	return recs, nil
}

// AllowLatestCreation marks the user's most recent thread creation as
// allowed. It is a no-op when the user has no records.
func (s *Store) AllowLatestCreation(ctx context.Context, userID string) error {
	var latest models.ThreadCreation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: allow latest creation: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&latest).
		Update("approval", models.ApprovalAllowed).Error; err != nil {
		return fmt.Errorf("store: allow latest creation: %w", err)
	}
	return nil
}
