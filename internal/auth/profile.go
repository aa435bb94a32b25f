package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"compliance-backend/internal/kv"
)

const ProfileKey = "user-profile"

var ErrUnknownTheme = errors.New("unknown theme")

type Preferences struct {
	PrimaryStandards     []string `json:"primary_standards"`
	NotificationsEnabled bool     `json:"notifications_enabled"`
	Theme                string   `json:"theme"`
}

type Stats struct {
	AuditSimulationsCompleted int `json:"audit_simulations_completed"`
	CitationsManaged          int `json:"citations_managed"`
	AIConversations           int `json:"ai_conversations"`
	StandardsTracked          int `json:"standards_tracked"`
	GoalsCompleted            int `json:"goals_completed"`
	TotalSectionsCompleted    int `json:"total_sections_completed"`
}

type Profile struct {
	DisplayName string      `json:"display_name"`
	Email       string      `json:"email"`
	Preferences Preferences `json:"preferences"`
	Stats       Stats       `json:"stats"`
}

type Stat string

const (
	StatAuditSimulations  Stat = "audit_simulations_completed"
	StatCitations         Stat = "citations_managed"
	StatAIConversations   Stat = "ai_conversations"
	StatStandardsTracked  Stat = "standards_tracked"
	StatGoalsCompleted    Stat = "goals_completed"
	StatSectionsCompleted Stat = "total_sections_completed"
)

func (s *Stats) field(stat Stat) (*int, error) {
	switch stat {
	case StatAuditSimulations:
		return &s.AuditSimulationsCompleted, nil
	case StatCitations:
		return &s.CitationsManaged, nil
	case StatAIConversations:
		return &s.AIConversations, nil
	case StatStandardsTracked:
		return &s.StandardsTracked, nil
	case StatGoalsCompleted:
		return &s.GoalsCompleted, nil
	case StatSectionsCompleted:
		return &s.TotalSectionsCompleted, nil
	}
	return nil, fmt.Errorf("unknown stat %q", stat)
}

var themes = []string{"professional", "light", "dark"}

func ProfileSchema() kv.Schema {
	return kv.Schema{Key: ProfileKey, Version: 1}
}

func DefaultProfile(email string) Profile {
	name := email
	if name == "" {
		name = "User"
	}
	return Profile{
		DisplayName: name,
		Email:       email,
		Preferences: Preferences{
			PrimaryStandards:     []string{},
			NotificationsEnabled: true,
			Theme:                "professional",
		},
	}
}

// Profiles keeps one Profile per user in the collection store.
type Profiles struct {
	c     *kv.Collections
	users *Users
}

func NewProfiles(c *kv.Collections, users *Users) *Profiles {
	return &Profiles{c: c, users: users}
}

func (p *Profiles) defaultFor(ctx context.Context, uid int) (Profile, error) {
	email, err := p.users.Email(ctx, uid)
	if err != nil {
		return Profile{}, err
	}
	return DefaultProfile(email), nil
}

func (p *Profiles) Get(ctx context.Context, uid int) (Profile, error) {
	def, err := p.defaultFor(ctx, uid)
	if err != nil {
		return Profile{}, err
	}
	return kv.Read(ctx, p.c, uid, ProfileKey, def)
}

// ProfilePatch carries the user-editable fields; nil means unchanged.
type ProfilePatch struct {
	DisplayName          *string   `json:"display_name"`
	PrimaryStandards     *[]string `json:"primary_standards"`
	NotificationsEnabled *bool     `json:"notifications_enabled"`
	Theme                *string   `json:"theme"`
}

func (p *Profiles) Update(ctx context.Context, uid int, patch ProfilePatch) (Profile, error) {
	if patch.Theme != nil && !slices.Contains(themes, *patch.Theme) {
		return Profile{}, fmt.Errorf("%w %q", ErrUnknownTheme, *patch.Theme)
	}
	def, err := p.defaultFor(ctx, uid)
	if err != nil {
		return Profile{}, err
	}

	return kv.Update(ctx, p.c, uid, ProfileKey, def, func(cur Profile) (Profile, error) {
		if patch.DisplayName != nil {
			if name := strings.TrimSpace(*patch.DisplayName); name != "" {
				cur.DisplayName = name
			}
		}
		if patch.PrimaryStandards != nil {
			cur.Preferences.PrimaryStandards = dedupe(*patch.PrimaryStandards)
		}
		if patch.NotificationsEnabled != nil {
			cur.Preferences.NotificationsEnabled = *patch.NotificationsEnabled
		}
		if patch.Theme != nil {
			cur.Preferences.Theme = *patch.Theme
		}
		return cur, nil
	})
}

// Increment adds n to one stat counter.
func (p *Profiles) Increment(ctx context.Context, uid int, stat Stat, n int) error {
	return p.apply(ctx, uid, stat, func(v int) int { return v + n })
}

// SetStat overwrites one stat counter, e.g. with a freshly counted total.
func (p *Profiles) SetStat(ctx context.Context, uid int, stat Stat, v int) error {
	return p.apply(ctx, uid, stat, func(int) int { return v })
}

func (p *Profiles) apply(ctx context.Context, uid int, stat Stat, fn func(int) int) error {
	def, err := p.defaultFor(ctx, uid)
	if err != nil {
		return err
	}
	_, err = kv.Update(ctx, p.c, uid, ProfileKey, def, func(cur Profile) (Profile, error) {
		f, err := cur.Stats.field(stat)
		if err != nil {
			return cur, err
		}
		if *f = fn(*f); *f < 0 {
			*f = 0
		}
		return cur, nil
	})
	return err
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
	Priority    string `json:"priority"`
}

// Recommendations derives suggested next actions from the profile.
func Recommendations(p Profile) []Recommendation {
	recs := []Recommendation{}

	if slices.Contains(p.Preferences.PrimaryStandards, "FDA_QSR") {
		recs = append(recs, Recommendation{
			Title:       "FDA QSR Audit Prep",
			Description: "Prepare for FDA 21 CFR Part 820 inspection",
			Action:      "audit",
			Priority:    "high",
		})
	}
	if slices.Contains(p.Preferences.PrimaryStandards, "ISO_13485") {
		recs = append(recs, Recommendation{
			Title:       "ISO 13485 Compliance Check",
			Description: "Review design controls requirements",
			Action:      "standards",
			Priority:    "medium",
		})
	}
	if p.Stats.CitationsManaged < 5 {
		recs = append(recs, Recommendation{
			Title:       "Build Citation Library",
			Description: "Add key regulatory citations for quick reference",
			Action:      "citations",
			Priority:    "low",
		})
	}
	return recs
}
