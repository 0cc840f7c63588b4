package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/switchboard/internal/models"
)

// CostStore is the storage the ledger appends to and sums over.
type CostStore interface {
	RecordCost(ctx context.Context, rec *models.CostRecord) error
	TrailingSpend(ctx context.Context, userID string, from, to time.Time) (float64, error)
}

// Ledger is the append-only record of money spent per user.
type Ledger struct {
	store CostStore
	rates RateTable
	now   func() time.Time
}

// NewLedger creates a Ledger pricing calls from rates.
func NewLedger(store CostStore, rates RateTable) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("billing: store is required")
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("billing: rates are required")
	}
	return &Ledger{store: store, rates: rates, now: time.Now}, nil
}

// Charge describes one billed completion call.
type Charge struct {
	UserID      string
	DisplayName string
	Model       string
	Usage       Usage
}

// Record prices a call and appends its cost record. It returns the cost.
func (l *Ledger) Record(ctx context.Context, c Charge) (float64, error) {
	rates, known := l.rates.Lookup(c.Model)
	if !known {
		log.Warn().Str("model", c.Model).Msg("billing: unknown model, using highest rates")
	}
	cost := Cost(c.Usage, rates)
	rec := &models.CostRecord{
		UserID:           c.UserID,
		DisplayName:      c.DisplayName,
		Amount:           cost,
		Model:            c.Model,
		PromptTokens:     c.Usage.PromptTokens,
		CompletionTokens: c.Usage.CompletionTokens,
		CreatedAt:        l.now(),
	}
	if err := l.store.RecordCost(ctx, rec); err != nil {
		return cost, fmt.Errorf("billing: record: %w", err)
	}
	log.Debug().Str("user", c.UserID).Str("model", c.Model).Float64("cost", cost).Msg("billing: recorded")
	return cost, nil
}

// TotalSpend sums the user's costs within [now-window, now]. Returns 0 when
// there are no records.
func (l *Ledger) TotalSpend(ctx context.Context, userID string, window time.Duration) (float64, error) {
	now := l.now()
	total, err := l.store.TrailingSpend(ctx, userID, now.Add(-window), now)
	if err != nil {
		return 0, fmt.Errorf("billing: total spend: %w", err)
	}
	return total, nil
}
