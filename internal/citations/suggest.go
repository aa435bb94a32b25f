package citations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"compliance-backend/internal/ai"
)

var ErrEmptyText = errors.New("text is required")

type Suggestion struct {
	Standard  string `json:"standard"`
	Section   string `json:"section"`
	Relevance int    `json:"relevance"`
	Context   string `json:"context"`
}

type Suggestions struct {
	Text      string       `json:"text"`
	Citations []Suggestion `json:"suggested_citations"`
	Fallback  bool         `json:"fallback"`
}

// DefaultSuggestions are returned when no model is configured or its answer
// cannot be used.
func DefaultSuggestions() []Suggestion {
	return []Suggestion{
		{Standard: "FDA 21 CFR Part 820", Section: "820.30(f)", Relevance: 95, Context: "Design verification requirements mentioned in your text"},
		{Standard: "ISO 13485:2016", Section: "7.3.5", Relevance: 87, Context: "Design verification processes align with this standard"},
		{Standard: "ISO 14971:2019", Section: "7.4", Relevance: 78, Context: "Risk control verification mentioned"},
	}
}

type Suggester struct {
	c ai.Completer
}

// NewSuggester accepts a nil completer, in which case every call falls back.
func NewSuggester(c ai.Completer) *Suggester {
	return &Suggester{c: c}
}

// Suggest proposes citations for text. Transport failures are returned;
// a reply that is not the expected JSON falls back to the defaults.
func (s *Suggester) Suggest(ctx context.Context, text string) (Suggestions, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Suggestions{}, ErrEmptyText
	}
	out := Suggestions{Text: text, Citations: DefaultSuggestions(), Fallback: true}
	if s.c == nil {
		return out, nil
	}

	raw, err := s.c.Complete(ctx, ai.BuildCitationPrompt(text))
	if err != nil {
		return Suggestions{}, fmt.Errorf("suggesting citations: %w", err)
	}

	var parsed struct {
		Citations []Suggestion `json:"suggested_citations"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || len(parsed.Citations) == 0 {
		return out, nil
	}
	for i := range parsed.Citations {
		parsed.Citations[i].Relevance = min(max(parsed.Citations[i].Relevance, 0), 100)
	}
	out.Citations, out.Fallback = parsed.Citations, false
	return out, nil
}
