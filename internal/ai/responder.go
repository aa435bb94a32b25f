package ai

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrFailed is the message users see for any assistant failure.
var ErrFailed = errors.New("failed to get AI response, please try again")

type Source struct {
	Title   string `yaml:"title" json:"title"`
	Section string `yaml:"section" json:"section"`
	URL     string `yaml:"url" json:"url,omitempty"`
}

type Reply struct {
	Content string
	Sources []Source
}

// Responder answers one chat message given the conversation so far.
type Responder interface {
	Respond(ctx context.Context, history []Turn, message string) (Reply, error)
}

// LLMResponder asks a model.
type LLMResponder struct {
	c Completer
}

func NewLLMResponder(c Completer) *LLMResponder {
	return &LLMResponder{c: c}
}

func (r *LLMResponder) Respond(ctx context.Context, history []Turn, message string) (Reply, error) {
	text, err := r.c.Complete(ctx, BuildChatPrompt(history, message))
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: text}, nil
}

//go:embed data/canned.yaml
var cannedYAML []byte

type cannedResponse struct {
	ID      string     `yaml:"id"`
	Match   [][]string `yaml:"match"`
	Content string     `yaml:"content"`
	Sources []Source   `yaml:"sources"`
}

func (c cannedResponse) matches(msg string) bool {
	if len(c.Match) == 0 {
		return false
	}
	for _, clause := range c.Match {
		hit := false
		for _, kw := range clause {
			if strings.Contains(msg, kw) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// CannedResponder answers from embedded fixtures by keyword. It is used when
// no model API key is configured.
type CannedResponder struct {
	responses []cannedResponse
	fallback  cannedResponse
}

func NewCannedResponder() (*CannedResponder, error) {
	return ParseCanned(cannedYAML)
}

func ParseCanned(data []byte) (*CannedResponder, error) {
	var doc struct {
		Responses []cannedResponse `yaml:"responses"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing canned responses: %w", err)
	}

	r := &CannedResponder{}
	found := false
	for _, c := range doc.Responses {
		if len(c.Match) == 0 {
			r.fallback, found = c, true
			continue
		}
		r.responses = append(r.responses, c)
	}
	if !found {
		return nil, errors.New("canned responses: no fallback entry")
	}
	return r, nil
}

func (r *CannedResponder) Respond(_ context.Context, _ []Turn, message string) (Reply, error) {
	msg := strings.ToLower(message)
	pick := r.fallback
	for _, c := range r.responses {
		if c.matches(msg) {
			pick = c
			break
		}
	}
	return Reply{Content: strings.TrimSpace(pick.Content), Sources: pick.Sources}, nil
}
