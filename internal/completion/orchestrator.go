package completion

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/switchboard/internal/billing"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/moderation"
)

// Status is the outcome kind of a completion turn.
type Status int

const (
	StatusOK Status = iota
	StatusTooLong
	StatusInvalidRequest
	StatusProviderError
	StatusModerationFlagged
	StatusModerationBlocked
)

var statusNames = map[Status]string{
	StatusOK:                "ok",
	StatusTooLong:           "too_long",
	StatusInvalidRequest:    "invalid_request",
	StatusProviderError:     "provider_error",
	StatusModerationFlagged: "moderation_flagged",
	StatusModerationBlocked: "moderation_blocked",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result is produced once per turn and consumed once by delivery. Reply is
// set for OK and ModerationFlagged (and kept for moderators on
// ModerationBlocked); Detail carries the internal error text and is never
// shown to users.
type Result struct {
	Status     Status
	Reply      string
	Detail     string
	Categories string
	Model      string
	Cost       float64
}

// CostRecorder bills a successful provider call.
type CostRecorder interface {
	Record(ctx context.Context, c billing.Charge) (float64, error)
}

// ReplyScreener classifies a generated reply in the context of its prompt.
type ReplyScreener interface {
	ScreenReply(ctx context.Context, rendered, reply string) (moderation.Verdict, error)
}

// Orchestrator runs one completion turn: build the transcript, call the
// tier's provider, bill the call, and screen the reply.
type Orchestrator struct {
	identity  *Identity
	providers *Providers
	ledger    CostRecorder
	screener  ReplyScreener
	counter   TokenCounter
}

// OrchestratorOpts holds parameters for creating an Orchestrator.
type OrchestratorOpts struct {
	Identity  *Identity
	Providers *Providers
	Ledger    CostRecorder
	Screener  ReplyScreener
	Counter   TokenCounter // optional pre-flight size check
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts OrchestratorOpts) (*Orchestrator, error) {
	switch {
	case opts.Identity == nil:
		return nil, fmt.Errorf("completion: identity is required")
	case opts.Providers == nil:
		return nil, fmt.Errorf("completion: providers are required")
	case opts.Ledger == nil:
		return nil, fmt.Errorf("completion: ledger is required")
	case opts.Screener == nil:
		return nil, fmt.Errorf("completion: screener is required")
	}
	return &Orchestrator{
		identity:  opts.Identity,
		providers: opts.Providers,
		ledger:    opts.Ledger,
		screener:  opts.Screener,
		counter:   opts.Counter,
	}, nil
}

// Identity returns the persona the orchestrator renders with.
func (o *Orchestrator) Identity() *Identity { return o.identity }

// Request is one turn to complete.
type Request struct {
	User         gateway.User
	Tier         billing.Tier
	Conversation Conversation
}

// Complete runs the turn. Sampling is deterministic and nothing is retried.
// The call is billed as soon as the provider succeeds, before the reply is
// screened, so blocked replies are still paid for.
func (o *Orchestrator) Complete(ctx context.Context, req Request) Result {
	model := req.Tier.Model
	msgs := BuildChat(o.identity, req.Conversation)

	if o.counter != nil && req.Tier.ContextWindow > 0 {
		n, err := o.counter.Count(model, msgs)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("model", model).Msg("completion: token estimate unavailable")
		case n >= req.Tier.ContextWindow:
			return Result{
				Status: StatusTooLong,
				Model:  model,
				Detail: fmt.Sprintf("estimated %d prompt tokens, window is %d", n, req.Tier.ContextWindow),
			}
		}
	}

	comp, err := o.providers.For(req.Tier.Name).Complete(ctx, model, msgs, 0)
	if err != nil {
		res := Result{Model: model, Detail: err.Error()}
		switch {
		case errors.Is(err, ErrContextTooLong):
			res.Status = StatusTooLong
		case errors.Is(err, ErrInvalidRequest):
			res.Status = StatusInvalidRequest
		default:
			res.Status = StatusProviderError
		}
		return res
	}

	cost, err := o.ledger.Record(ctx, billing.Charge{
		UserID:      req.User.ID,
		DisplayName: req.User.Name,
		Model:       model,
		Usage:       comp.Usage,
	})
	if err != nil {
		log.Error().Err(err).Str("user", req.User.ID).Msg("completion: cost not recorded")
	}

	res := Result{Status: StatusOK, Reply: comp.Text, Model: model, Cost: cost}
	if comp.Text == "" {
		return res
	}

	v, err := o.screener.ScreenReply(ctx, Render(o.identity, req.Conversation), comp.Text)
	if err != nil {
		return Result{
			Status: StatusProviderError,
			Model:  model,
			Cost:   cost,
			Detail: fmt.Sprintf("reply moderation: %v", err),
		}
	}
	switch {
	case v.IsBlocked():
		res.Status = StatusModerationBlocked
		res.Categories = v.Categories()
	case v.IsFlagged():
		res.Status = StatusModerationFlagged
		res.Categories = v.Categories()
	}
	return res
}
