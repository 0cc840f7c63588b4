package dashboard

import (
	"context"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

// Queries is the read side of the store used by the admin API.
// *store.Store satisfies it.
type Queries interface {
	CostBreakdown(ctx context.Context) ([]models.UserSpend, float64, error)
	BlockedUsers(ctx context.Context) ([]models.BlockEntry, error)
	TrailingSpend(ctx context.Context, userID string, from, to time.Time) (float64, error)
}

// CostRow is one user's line of the cost breakdown.
type CostRow struct {
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	Total       float64 `json:"total"`
	Calls       int64   `json:"calls"`
}

// CostReport is the body of GET /api/costs.
type CostReport struct {
	Users      []CostRow `json:"users"`
	GrandTotal float64   `json:"grand_total"`
}

// BlockRow is one currently blocked user.
type BlockRow struct {
	UserID        string    `json:"user_id"`
	ModeratorID   string    `json:"moderator_id"`
	ModeratorName string    `json:"moderator_name"`
	BlockedAt     time.Time `json:"blocked_at"`
}

// SpendReport is the body of GET /api/users/:id/spend.
type SpendReport struct {
	UserID string    `json:"user_id"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Total  float64   `json:"total"`
}

func costReport(ctx context.Context, q Queries) (CostReport, error) {
	rows, total, err := q.CostBreakdown(ctx)
	if err != nil {
		return CostReport{}, err
	}
	report := CostReport{Users: make([]CostRow, len(rows)), GrandTotal: total}
	for i, r := range rows {
		report.Users[i] = CostRow{
			UserID:      r.UserID,
			DisplayName: r.DisplayName,
			Total:       r.Total,
			Calls:       r.Calls,
		}
	}
	return report, nil
}

func blockRows(ctx context.Context, q Queries) ([]BlockRow, error) {
	entries, err := q.BlockedUsers(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]BlockRow, len(entries))
	for i, e := range entries {
		rows[i] = BlockRow{
			UserID:        e.TargetUserID,
			ModeratorID:   e.ModeratorID,
			ModeratorName: e.ModeratorName,
			BlockedAt:     e.CreatedAt,
		}
	}
	return rows, nil
}
