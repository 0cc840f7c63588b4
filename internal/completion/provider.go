package completion

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/switchboard/internal/billing"
)

var (
	// ErrContextTooLong is wrapped by providers when the transcript exceeds
	// the model's context window.
	ErrContextTooLong = errors.New("completion: context too long")
	// ErrInvalidRequest is wrapped by providers for any other client-side
	// rejection.
	ErrInvalidRequest = errors.New("completion: invalid request")
)

// ChatMessage is one role-tagged provider message.
type ChatMessage struct {
	Role    Role
	Content string
}

// Completion is a successful provider response.
type Completion struct {
	Text  string
	Model string
	Usage billing.Usage
}

// Provider generates a reply for a role-tagged transcript. Errors wrap
// ErrContextTooLong or ErrInvalidRequest when they apply; every other error
// is treated as a provider failure.
type Provider interface {
	Complete(ctx context.Context, model string, msgs []ChatMessage, temperature float64) (Completion, error)
}

// Providers routes tiers to their providers. Tiers without a dedicated
// provider use the default one.
type Providers struct {
	def    Provider
	byTier map[string]Provider
}

// NewProviders creates a registry with a default provider.
func NewProviders(def Provider) (*Providers, error) {
	if def == nil {
		return nil, fmt.Errorf("completion: default provider is required")
	}
	return &Providers{def: def, byTier: make(map[string]Provider)}, nil
}

// Set assigns a dedicated provider to a tier.
func (p *Providers) Set(tier string, prov Provider) {
	p.byTier[tier] = prov
}

// For returns the provider serving tier.
func (p *Providers) For(tier string) Provider {
	if prov, ok := p.byTier[tier]; ok {
		return prov
	}
	return p.def
}
