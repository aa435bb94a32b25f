// Package audit runs scripted audit simulations: fixed question sets that a
// user answers one by one and gets scored on.
package audit

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple-choice"
	OpenEnded      QuestionType = "open-ended"
)

type Question struct {
	ID            string       `yaml:"id" json:"id"`
	Text          string       `yaml:"question" json:"question"`
	Type          QuestionType `yaml:"type" json:"type"`
	Options       []string     `yaml:"options" json:"options,omitempty"`
	CorrectAnswer string       `yaml:"correct_answer" json:"correct_answer,omitempty"`
	Context       string       `yaml:"context" json:"context,omitempty"`
	Guidance      string       `yaml:"guidance" json:"guidance,omitempty"`
}

// Scored reports whether the question counts toward the score.
func (q Question) Scored() bool {
	return q.Type == MultipleChoice && q.CorrectAnswer != ""
}

type Scenario struct {
	ID               string     `yaml:"id" json:"id"`
	Title            string     `yaml:"title" json:"title"`
	Description      string     `yaml:"description" json:"description"`
	Category         string     `yaml:"category" json:"category"`
	Difficulty       string     `yaml:"difficulty" json:"difficulty"`
	EstimatedMinutes int        `yaml:"estimated_minutes" json:"estimated_minutes"`
	Questions        []Question `yaml:"questions" json:"questions"`
}

// Public returns the scenario with correct answers removed.
func (s Scenario) Public() Scenario {
	qs := slices.Clone(s.Questions)
	for i := range qs {
		qs[i].CorrectAnswer = ""
	}
	s.Questions = qs
	return s
}

func (s Scenario) question(id string) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

//go:embed data/scenarios.yaml
var scenariosYAML []byte

type Library struct {
	scenarios []Scenario
}

func LoadLibrary() (*Library, error) {
	return ParseLibrary(scenariosYAML)
}

func ParseLibrary(data []byte) (*Library, error) {
	var doc struct {
		Scenarios []Scenario `yaml:"scenarios"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing scenarios: %w", err)
	}

	seen := map[string]bool{}
	for _, s := range doc.Scenarios {
		if s.ID == "" || seen[s.ID] {
			return nil, fmt.Errorf("scenario %q: missing or duplicate id", s.ID)
		}
		seen[s.ID] = true
		if len(s.Questions) == 0 {
			return nil, fmt.Errorf("scenario %s: no questions", s.ID)
		}
		for _, q := range s.Questions {
			switch q.Type {
			case OpenEnded:
			case MultipleChoice:
				if q.CorrectAnswer != "" && !slices.Contains(q.Options, q.CorrectAnswer) {
					return nil, fmt.Errorf("scenario %s question %s: correct answer is not an option", s.ID, q.ID)
				}
			default:
				return nil, fmt.Errorf("scenario %s question %s: unknown type %q", s.ID, q.ID, q.Type)
			}
		}
	}
	return &Library{scenarios: doc.Scenarios}, nil
}

var ErrScenarioNotFound = errors.New("scenario not found")

// All lists the scenarios without their answers.
func (l *Library) All() []Scenario {
	out := make([]Scenario, 0, len(l.scenarios))
	for _, s := range l.scenarios {
		out = append(out, s.Public())
	}
	return out
}

// Get returns the full scenario, answers included.
func (l *Library) Get(id string) (Scenario, error) {
	for _, s := range l.scenarios {
		if s.ID == id {
			return s, nil
		}
	}
	return Scenario{}, ErrScenarioNotFound
}
