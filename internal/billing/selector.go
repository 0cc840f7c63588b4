package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// SpendReader answers trailing-window spend queries.
type SpendReader interface {
	TotalSpend(ctx context.Context, userID string, window time.Duration) (float64, error)
}

// Selector chooses the tier for a user's next turn. The decision is a plain
// threshold on trailing spend, evaluated fresh on every call.
type Selector struct {
	spend     SpendReader
	premium   Tier
	economy   Tier
	pinned    map[string]bool
	window    time.Duration
	threshold float64
}

// SelectorOpts holds parameters for creating a Selector.
type SelectorOpts struct {
	Spend     SpendReader
	Premium   Tier
	Economy   Tier
	Pinned    []string // always served the economy tier
	Window    time.Duration
	Threshold float64
}

// NewSelector creates a Selector.
func NewSelector(opts SelectorOpts) (*Selector, error) {
	if opts.Spend == nil {
		return nil, fmt.Errorf("billing: spend reader is required")
	}
	if opts.Premium.Model == "" || opts.Economy.Model == "" {
		return nil, fmt.Errorf("billing: premium and economy tiers are required")
	}
	if opts.Window <= 0 {
		return nil, fmt.Errorf("billing: spend window must be positive")
	}
	pinned := make(map[string]bool, len(opts.Pinned))
	for _, id := range opts.Pinned {
		pinned[id] = true
	}
	return &Selector{
		spend:     opts.Spend,
		premium:   opts.Premium,
		economy:   opts.Economy,
		pinned:    pinned,
		window:    opts.Window,
		threshold: opts.Threshold,
	}, nil
}

// Choose returns the premium tier while the user's trailing spend is at or
// below the threshold and the economy tier otherwise. Pinned users always get
// economy. A failed spend lookup falls back to economy.
func (s *Selector) Choose(ctx context.Context, userID string) Tier {
	if s.pinned[userID] {
		return s.economy
	}
	spent, err := s.spend.TotalSpend(ctx, userID, s.window)
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("billing: spend lookup failed, using economy tier")
		return s.economy
	}
	if spent <= s.threshold {
		return s.premium
	}
	return s.economy
}
