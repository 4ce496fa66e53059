// Package scoring classifies cluster representatives.
package scoring

import (
	"context"
	"fmt"
	"strings"

	"esg_news/internal/model"
)

// Scorer assigns a sentiment label and confidence to an article.
// Implementations return an error wrapping model.ErrScoringUnavailable
// when no score can be produced.
type Scorer interface {
	Score(ctx context.Context, a model.Article) (model.Score, error)
}

// Disabled is a Scorer that never scores.
type Disabled struct{}

// Score implements Scorer.
func (Disabled) Score(context.Context, model.Article) (model.Score, error) {
	return model.Score{}, fmt.Errorf("scoring disabled: %w", model.ErrScoringUnavailable)
}

var labelAliases = map[string]string{
	"LABEL_0":  model.LabelPositive,
	"0":        model.LabelPositive,
	"POSITIVE": model.LabelPositive,
	"POS":      model.LabelPositive,
	"긍정":       model.LabelPositive,
	"LABEL_1":  model.LabelNegative,
	"1":        model.LabelNegative,
	"NEGATIVE": model.LabelNegative,
	"NEG":      model.LabelNegative,
	"부정":       model.LabelNegative,
	"LABEL_2":  model.LabelNeutral,
	"2":        model.LabelNeutral,
	"NEUTRAL":  model.LabelNeutral,
	"NEU":      model.LabelNeutral,
	"중립":       model.LabelNeutral,
}

// NormalizeLabel maps classifier output labels onto positive, negative or
// neutral. Unknown labels are treated as neutral.
func NormalizeLabel(raw string) string {
	if l, ok := labelAliases[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return l
	}
	return model.LabelNeutral
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
