package audit

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"compliance-backend/internal/kv"
)

const Key = "audit-sessions"

// MaxSessions bounds the stored history; oldest go first.
const MaxSessions = 100

var (
	ErrNotFound      = errors.New("audit session not found")
	ErrCompleted     = errors.New("audit session already completed")
	ErrInvalidAnswer = errors.New("invalid answer")
)

type Session struct {
	ID            string            `json:"id"`
	ScenarioID    string            `json:"scenario_id"`
	ScenarioTitle string            `json:"scenario_title"`
	StartedAt     time.Time         `json:"started_at"`
	Answers       map[string]string `json:"answers"`
	NextQuestion  string            `json:"next_question,omitempty"`
	Completed     bool              `json:"completed"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Score         *int              `json:"score,omitempty"`
	Feedback      string            `json:"feedback,omitempty"`
	// MissedQuestions are the scored questions answered incorrectly.
	MissedQuestions []string `json:"missed_questions,omitempty"`
}

func Schema() kv.Schema {
	return kv.Schema{Key: Key, Version: 1}
}

// Score is the share of scored questions answered exactly right, as a
// rounded percentage; zero when the scenario has none.
func Score(s Scenario, answers map[string]string) (int, []Question) {
	total, right := 0, 0
	var missed []Question
	for _, q := range s.Questions {
		if !q.Scored() {
			continue
		}
		total++
		if answers[q.ID] == q.CorrectAnswer {
			right++
		} else {
			missed = append(missed, q)
		}
	}
	if total == 0 {
		return 0, nil
	}
	return int(math.Round(float64(right) / float64(total) * 100)), missed
}

// Feedback renders the result summary shown after a simulation.
func Feedback(score int, missed []Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Audit simulation completed with a score of %d%%.\n\n", score)
	switch {
	case score >= 80:
		b.WriteString("Excellent performance! You demonstrated strong understanding of regulatory requirements.")
	case score >= 60:
		b.WriteString("Good performance with room for improvement. Review the areas where you missed questions.")
	default:
		b.WriteString("Consider additional training in this regulatory area before a real audit.")
	}
	b.WriteString("\n\nKey Areas for Review:\n")
	for _, q := range missed {
		text := []rune(q.Text)
		if len(text) > 50 {
			text = text[:50]
		}
		fmt.Fprintf(&b, "• %s...\n", string(text))
	}
	return b.String()
}

func nextQuestion(s Scenario, answers map[string]string) string {
	for _, q := range s.Questions {
		if _, ok := answers[q.ID]; !ok {
			return q.ID
		}
	}
	return ""
}

type Sessions struct {
	c   *kv.Collections
	lib *Library
	now func() time.Time
}

func NewSessions(c *kv.Collections, lib *Library, now func() time.Time) *Sessions {
	if now == nil {
		now = time.Now
	}
	return &Sessions{c: c, lib: lib, now: now}
}

func (s *Sessions) Library() *Library { return s.lib }

func (s *Sessions) List(ctx context.Context, uid int) ([]Session, error) {
	return kv.Read(ctx, s.c, uid, Key, []Session{})
}

func (s *Sessions) Get(ctx context.Context, uid int, id string) (Session, error) {
	all, err := s.List(ctx, uid)
	if err != nil {
		return Session{}, err
	}
	for _, ss := range all {
		if ss.ID == id {
			return ss, nil
		}
	}
	return Session{}, ErrNotFound
}

func (s *Sessions) Start(ctx context.Context, uid int, scenarioID string) (Session, error) {
	sc, err := s.lib.Get(scenarioID)
	if err != nil {
		return Session{}, err
	}
	ss := Session{
		ID:            uuid.NewString(),
		ScenarioID:    sc.ID,
		ScenarioTitle: sc.Title,
		StartedAt:     s.now().UTC(),
		Answers:       map[string]string{},
		NextQuestion:  sc.Questions[0].ID,
	}
	_, err = kv.Update(ctx, s.c, uid, Key, []Session{}, func(cur []Session) ([]Session, error) {
		cur = append(cur, ss)
		if len(cur) > MaxSessions {
			cur = cur[len(cur)-MaxSessions:]
		}
		return cur, nil
	})
	if err != nil {
		return Session{}, err
	}
	return ss, nil
}

// Answer records one answer. Multiple-choice answers must be one of the
// options. When the last unanswered question is answered the session is
// scored and completed reports true.
func (s *Sessions) Answer(ctx context.Context, uid int, id, questionID, answer string) (out Session, completed bool, err error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Session{}, false, fmt.Errorf("%w: answer is required", ErrInvalidAnswer)
	}

	_, err = kv.Update(ctx, s.c, uid, Key, []Session{}, func(cur []Session) ([]Session, error) {
		i := slices.IndexFunc(cur, func(ss Session) bool { return ss.ID == id })
		if i < 0 {
			return nil, ErrNotFound
		}
		ss := cur[i]
		if ss.Completed {
			return nil, ErrCompleted
		}
		sc, err := s.lib.Get(ss.ScenarioID)
		if err != nil {
			return nil, err
		}
		q, ok := sc.question(questionID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown question %q", ErrInvalidAnswer, questionID)
		}
		if q.Type == MultipleChoice && !slices.Contains(q.Options, answer) {
			return nil, fmt.Errorf("%w: not one of the options", ErrInvalidAnswer)
		}

		ss.Answers = maps.Clone(ss.Answers)
		if ss.Answers == nil {
			ss.Answers = map[string]string{}
		}
		ss.Answers[q.ID] = answer
		ss.NextQuestion = nextQuestion(sc, ss.Answers)

		if ss.NextQuestion == "" {
			score, missed := Score(sc, ss.Answers)
			at := s.now().UTC()
			ss.Completed = true
			ss.CompletedAt = &at
			ss.Score = &score
			ss.Feedback = Feedback(score, missed)
			for _, m := range missed {
				ss.MissedQuestions = append(ss.MissedQuestions, m.ID)
			}
			completed = true
		}
		cur[i] = ss
		out = ss
		return cur, nil
	})
	if err != nil {
		return Session{}, false, err
	}
	return out, completed, nil
}
