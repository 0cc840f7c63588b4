package moderation

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
)

// OpenAIClassifier classifies text with the OpenAI moderations endpoint and
// applies per-category thresholds to the returned scores.
type OpenAIClassifier struct {
	client     openai.Client
	model      string
	thresholds Thresholds
}

// OpenAIClassifierOpts holds parameters for creating an OpenAIClassifier.
type OpenAIClassifierOpts struct {
	APIKey     string
	BaseURL    string // optional; defaults to the public API
	Model      string
	Thresholds Thresholds
}

// NewOpenAIClassifier creates an OpenAIClassifier.
func NewOpenAIClassifier(opts OpenAIClassifierOpts) (*OpenAIClassifier, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("moderation: api key is required")
	}
	if len(opts.Thresholds.Flag) == 0 && len(opts.Thresholds.Block) == 0 {
		return nil, fmt.Errorf("moderation: thresholds are required")
	}
	model := opts.Model
	if model == "" {
		model = openai.ModerationModelOmniModerationLatest
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &OpenAIClassifier{
		client:     openai.NewClient(reqOpts...),
		model:      model,
		thresholds: opts.Thresholds,
	}, nil
}

// Classify scores text and returns the thresholded verdict.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	resp, err := c.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
		Model: c.model,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation: classify: %w", err)
	}

	// Category names contain slashes, so read the scores from the raw body
	// instead of enumerating struct fields.
	raw := gjson.Get(resp.RawJSON(), "results.0.category_scores")
	if !raw.Exists() {
		return Verdict{}, fmt.Errorf("moderation: classify: response has no category scores")
	}
	scores := make(map[string]float64)
	raw.ForEach(func(key, value gjson.Result) bool {
		scores[key.String()] = value.Float()
		return true
	})
	return Evaluate(scores, c.thresholds), nil
}
