package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"esg_news/internal/model"
)

const prompt = `Classify the ESG sentiment of the news article below for the company or industry it covers.
Answer with a single JSON object and nothing else: {"label": "positive|negative|neutral", "confidence": 0.0-1.0}

Title: %s
Snippet: %s`

// OpenAIConfig configures the OpenAI-backed scorer.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type completer interface {
	Complete(ctx context.Context, modelName, input string) (string, error)
}

type responsesAdapter struct {
	service responses.ResponseService
}

func (a responsesAdapter) Complete(ctx context.Context, modelName, input string) (string, error) {
	resp, err := a.service.New(ctx, responses.ResponseNewParams{
		Model: modelName,
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	})
	if err != nil {
		return "", err
	}
	return resp.OutputText(), nil
}

// OpenAIScorer classifies articles with the OpenAI Responses API.
type OpenAIScorer struct {
	llm   completer
	model string
}

// NewOpenAI creates an OpenAIScorer.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIScorer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("new openai scorer: api key is empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("new openai scorer: model is empty")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAIScorer{
		llm:   responsesAdapter{service: client.Responses},
		model: cfg.Model,
	}, nil
}

type reply struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
}

// Score implements Scorer.
func (s *OpenAIScorer) Score(ctx context.Context, a model.Article) (model.Score, error) {
	out, err := s.llm.Complete(ctx, s.model, fmt.Sprintf(prompt, a.Title, a.Body))
	if err != nil {
		return model.Score{}, fmt.Errorf("openai score: %w: %w", model.ErrScoringUnavailable, err)
	}
	// A reply that cannot be parsed affects this article only.
	score, err := parseReply(out)
	if err != nil {
		return model.Score{}, fmt.Errorf("openai score: %w", err)
	}
	return score, nil
}

// parseReply extracts the JSON object from a model reply, tolerating code fences
// and surrounding prose.
func parseReply(out string) (model.Score, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end < start {
		return model.Score{}, fmt.Errorf("no json object in reply %q", out)
	}

	var r reply
	if err := json.Unmarshal([]byte(out[start:end+1]), &r); err != nil {
		return model.Score{}, fmt.Errorf("decode reply: %w", err)
	}
	if strings.TrimSpace(r.Label) == "" || r.Confidence == nil {
		return model.Score{}, fmt.Errorf("incomplete reply %q", out)
	}
	return model.Score{Label: NormalizeLabel(r.Label), Confidence: clamp(*r.Confidence)}, nil
}
