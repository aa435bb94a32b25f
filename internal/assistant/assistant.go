// Package assistant keeps the regulatory chat history and routes questions to
// an ai.Responder.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"compliance-backend/internal/ai"
	"compliance-backend/internal/kv"
)

const Key = "ai-chat-messages"

const (
	// HistoryTurns is how many earlier messages go to the model.
	HistoryTurns = 20
	// MaxMessages bounds the stored conversation; oldest go first.
	MaxMessages = 200
)

var (
	ErrEmptyMessage = errors.New("message is required")
	ErrNotFound     = errors.New("message not found")
	ErrNotAssistant = errors.New("feedback applies to assistant messages only")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Sources   []ai.Source `json:"sources,omitempty"`
	Helpful   *bool       `json:"helpful,omitempty"`
}

type Topic struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

func topic(id, title, desc string) Topic {
	return Topic{ID: id, Title: title, Description: desc, Prompt: "Tell me about " + strings.ToLower(title)}
}

// Topics are the conversation starters.
func Topics() []Topic {
	return []Topic{
		topic("design-controls", "FDA Design Controls", "Learn about 21 CFR 820.30 design control requirements"),
		topic("risk-management", "ISO 14971 Risk Management", "Understanding risk management for medical devices"),
		topic("clinical-evaluation", "EU MDR Clinical Evaluation", "Clinical evaluation requirements under EU MDR"),
		topic("quality-system", "ISO 13485 QMS", "Quality management system implementation"),
		topic("validation", "Process Validation", "Validation requirements for medical device manufacturing"),
		topic("documentation", "Technical Documentation", "Creating compliant technical documentation"),
	}
}

func Schema() kv.Schema {
	return kv.Schema{Key: Key, Version: 1}
}

type Service struct {
	c   *kv.Collections
	r   ai.Responder
	now func() time.Time
}

func NewService(c *kv.Collections, r ai.Responder, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{c: c, r: r, now: now}
}

func (s *Service) Messages(ctx context.Context, uid int) ([]Message, error) {
	return kv.Read(ctx, s.c, uid, Key, []Message{})
}

func (s *Service) append(ctx context.Context, uid int, m Message) ([]Message, error) {
	return kv.Update(ctx, s.c, uid, Key, []Message{}, func(cur []Message) ([]Message, error) {
		cur = append(cur, m)
		if len(cur) > MaxMessages {
			cur = cur[len(cur)-MaxMessages:]
		}
		return cur, nil
	})
}

// Exchange is one question and, when the responder succeeded, its answer.
type Exchange struct {
	Question Message  `json:"question"`
	Answer   *Message `json:"answer"`
	// NewConversation is set when the question opened an empty history.
	NewConversation bool `json:"new_conversation"`
}

// Send stores the question, asks the responder with the preceding history
// and stores the answer. When the responder fails the question stays stored
// and the error wraps ai.ErrFailed.
func (s *Service) Send(ctx context.Context, uid int, content string) (Exchange, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Exchange{}, ErrEmptyMessage
	}

	q := Message{ID: uuid.NewString(), Role: RoleUser, Content: content, Timestamp: s.now().UTC()}
	all, err := s.append(ctx, uid, q)
	if err != nil {
		return Exchange{}, err
	}
	ex := Exchange{Question: q, NewConversation: len(all) == 1}

	prior := all[:len(all)-1]
	if len(prior) > HistoryTurns {
		prior = prior[len(prior)-HistoryTurns:]
	}
	history := make([]ai.Turn, 0, len(prior))
	for _, m := range prior {
		history = append(history, ai.Turn{Role: string(m.Role), Content: m.Content})
	}

	reply, err := s.r.Respond(ctx, history, content)
	if err != nil {
		return ex, fmt.Errorf("%w: %w", ai.ErrFailed, err)
	}

	a := Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   reply.Content,
		Timestamp: s.now().UTC(),
		Sources:   reply.Sources,
	}
	if _, err := s.append(ctx, uid, a); err != nil {
		return ex, err
	}
	ex.Answer = &a
	return ex, nil
}

// Feedback records whether an assistant answer was helpful.
func (s *Service) Feedback(ctx context.Context, uid int, id string, helpful bool) (Message, error) {
	var out Message
	_, err := kv.Update(ctx, s.c, uid, Key, []Message{}, func(cur []Message) ([]Message, error) {
		i := slices.IndexFunc(cur, func(m Message) bool { return m.ID == id })
		if i < 0 {
			return nil, ErrNotFound
		}
		if cur[i].Role != RoleAssistant {
			return nil, ErrNotAssistant
		}
		cur[i].Helpful = &helpful
		out = cur[i]
		return cur, nil
	})
	return out, err
}

// Clear drops the conversation.
func (s *Service) Clear(ctx context.Context, uid int) error {
	return kv.Write(ctx, s.c, uid, Key, []Message{})
}
