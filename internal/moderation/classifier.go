// Package moderation screens inbound user text and generated replies. A
// Classifier turns text into a Verdict; the Gate owns the policy of what the
// assistant does with that verdict in a thread.
package moderation

import (
	"context"
	"sort"
	"strings"
)

// Verdict is the outcome of classifying one piece of text. A category
// appears in at most one of Flagged and Blocked.
type Verdict struct {
	Flagged []string
	Blocked []string
}

// IsBlocked reports whether any category crossed its block threshold.
func (v Verdict) IsBlocked() bool { return len(v.Blocked) > 0 }

// IsFlagged reports whether the text is flagged but not blocked.
func (v Verdict) IsFlagged() bool { return !v.IsBlocked() && len(v.Flagged) > 0 }

// Categories returns the categories that drove the verdict, comma separated.
func (v Verdict) Categories() string {
	if v.IsBlocked() {
		return strings.Join(v.Blocked, ", ")
	}
	return strings.Join(v.Flagged, ", ")
}

// Classifier assigns a moderation verdict to text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// Thresholds maps category names to the minimum score that triggers the
// corresponding verdict.
type Thresholds struct {
	Flag  map[string]float64
	Block map[string]float64
}

// Evaluate applies thresholds to per-category scores. Block thresholds are
// checked first so a category never lands in both sets. Categories without a
// threshold are ignored. Results are sorted for stable output.
func Evaluate(scores map[string]float64, th Thresholds) Verdict {
	var v Verdict
	for category, score := range scores {
		if limit, ok := th.Block[category]; ok && score > limit {
			v.Blocked = append(v.Blocked, category)
			continue
		}
		if limit, ok := th.Flag[category]; ok && score > limit {
			v.Flagged = append(v.Flagged, category)
		}
	}
	sort.Strings(v.Flagged)
	sort.Strings(v.Blocked)
	return v
}

// Tail returns the last n characters of s, counted in runes.
func Tail(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
