// Package citations keeps each user's regulatory citation library.
package citations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"compliance-backend/internal/kv"
)

const Key = "regulatory-citations"

// ReviewAfter is how long an unvalidated citation may go unchecked.
const ReviewAfter = 90 * 24 * time.Hour

var ErrNotFound = errors.New("citation not found")

type Type string

const (
	TypeRegulation Type = "regulation"
	TypeStandard   Type = "standard"
	TypeGuidance   Type = "guidance"
	TypeArticle    Type = "article"
)

var types = []Type{TypeRegulation, TypeStandard, TypeGuidance, TypeArticle}

type Status string

const (
	StatusValidated   Status = "validated"
	StatusNeedsReview Status = "needs-review"
	StatusPending     Status = "pending"
)

type Citation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Standard       string    `json:"standard"`
	Section        string    `json:"section"`
	Type           Type      `json:"type"`
	Date           string    `json:"date"`
	URL            string    `json:"url,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	Tags           []string  `json:"tags"`
	Validated      bool      `json:"validated"`
	SourceDomain   string    `json:"source_domain,omitempty"`
	OfficialSource bool      `json:"official_source"`
	LastChecked    time.Time `json:"last_checked"`
	CreatedAt      time.Time `json:"created_at"`
}

// Status is derived: validated, or needs-review once ReviewAfter has passed
// since the last check, otherwise pending.
func (c Citation) Status(now time.Time) Status {
	if c.Validated {
		return StatusValidated
	}
	if now.Sub(c.LastChecked) > ReviewAfter {
		return StatusNeedsReview
	}
	return StatusPending
}

// Formatted is the copy-to-clipboard form of a citation.
func (c Citation) Formatted() string {
	return fmt.Sprintf("%s, %s %s (%s)", c.Title, c.Standard, c.Section, c.Date)
}

// officialDomains are registrable domains of regulators and standards bodies.
var officialDomains = []string{
	"fda.gov", "ecfr.gov", "federalregister.gov", "regulations.gov",
	"iso.org", "iec.ch", "europa.eu", "imdrf.org", "who.int",
	"gov.uk", "tga.gov.au", "canada.ca", "pmda.go.jp",
}

// SourceDomain returns the registrable domain of rawURL ("www.fda.gov" ->
// "fda.gov") and whether it belongs to a known regulator.
func SourceDomain(rawURL string) (domain string, official bool, err error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false, fmt.Errorf("parsing url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false, fmt.Errorf("url %q has no host", rawURL)
	}

	domain, err = publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", false, fmt.Errorf("resolving domain of %q: %w", host, err)
	}
	// gov.uk and friends are public suffixes themselves; match on suffix too
	for _, d := range officialDomains {
		if domain == d || strings.HasSuffix(host, "."+d) {
			return domain, true, nil
		}
	}
	return domain, false, nil
}

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

type Input struct {
	Title    string   `json:"title"`
	Standard string   `json:"standard"`
	Section  string   `json:"section"`
	Type     Type     `json:"type"`
	Date     string   `json:"date"`
	URL      string   `json:"url"`
	Notes    string   `json:"notes"`
	Tags     []string `json:"tags"`
}

// splitTags accepts "a, b" entries, trims them and drops blanks and repeats.
func splitTags(in []string) []string {
	out := []string{}
	for _, t := range in {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" && !slices.Contains(out, part) {
				out = append(out, part)
			}
		}
	}
	return out
}

func (in *Input) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Standard = strings.TrimSpace(in.Standard)
	in.Section = strings.TrimSpace(in.Section)
	if in.Title == "" || in.Standard == "" || in.Section == "" {
		return &ValidationError{Field: "title", Msg: "title, standard and section are required"}
	}
	if in.Type == "" {
		in.Type = TypeRegulation
	}
	if !slices.Contains(types, in.Type) {
		return &ValidationError{Field: "type", Msg: fmt.Sprintf("unknown type %q", in.Type)}
	}
	in.URL = strings.TrimSpace(in.URL)
	if in.URL != "" {
		if _, _, err := SourceDomain(in.URL); err != nil {
			return &ValidationError{Field: "url", Msg: "invalid url"}
		}
	}
	in.Tags = splitTags(in.Tags)
	return nil
}

type Options struct {
	Now         func() time.Time
	SeedSamples bool
}

type Service struct {
	c    *kv.Collections
	now  func() time.Time
	seed bool
}

func NewService(c *kv.Collections, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{c: c, now: opts.Now, seed: opts.SeedSamples}
}

func Schema() kv.Schema {
	return kv.Schema{Key: Key, Version: 1}
}

func (s *Service) initial(cur []Citation) []Citation {
	if cur != nil {
		return cur
	}
	if s.seed {
		return SampleCitations(s.now())
	}
	return []Citation{}
}

func (s *Service) update(ctx context.Context, uid int, fn func([]Citation) ([]Citation, error)) ([]Citation, error) {
	return kv.Update[[]Citation](ctx, s.c, uid, Key, nil, func(cur []Citation) ([]Citation, error) {
		return fn(slices.Clone(s.initial(cur)))
	})
}

func (s *Service) All(ctx context.Context, uid int) ([]Citation, error) {
	cur, err := kv.Read[[]Citation](ctx, s.c, uid, Key, nil)
	if err != nil {
		return nil, err
	}
	if cur == nil && s.seed {
		return s.update(ctx, uid, func(cs []Citation) ([]Citation, error) { return cs, nil })
	}
	return s.initial(cur), nil
}

type Filter struct {
	Query  string
	Type   string
	Status string
}

// Match reports whether c contains the query (title, standard, section or a
// tag, case-insensitive) and has the type and status, "all" or empty
// matching any.
func (f Filter) Match(c Citation, now time.Time) bool {
	if f.Type != "" && f.Type != "all" && string(c.Type) != f.Type {
		return false
	}
	if f.Status != "" && f.Status != "all" && string(c.Status(now)) != f.Status {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	for _, field := range append([]string{c.Title, c.Standard, c.Section}, c.Tags...) {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func (s *Service) List(ctx context.Context, uid int, f Filter) ([]Citation, error) {
	all, err := s.All(ctx, uid)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := []Citation{}
	for _, c := range all {
		if f.Match(c, now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, uid int, id string) (Citation, error) {
	all, err := s.All(ctx, uid)
	if err != nil {
		return Citation{}, err
	}
	for _, c := range all {
		if c.ID == id {
			return c, nil
		}
	}
	return Citation{}, ErrNotFound
}

// Create adds an unvalidated citation and returns it with the new total.
func (s *Service) Create(ctx context.Context, uid int, in Input) (Citation, int, error) {
	if err := in.normalize(); err != nil {
		return Citation{}, 0, err
	}
	now := s.now().UTC()
	c := Citation{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Standard:    in.Standard,
		Section:     in.Section,
		Type:        in.Type,
		Date:        strings.TrimSpace(in.Date),
		URL:         in.URL,
		Notes:       strings.TrimSpace(in.Notes),
		Tags:        in.Tags,
		LastChecked: now,
		CreatedAt:   now,
	}
	if c.URL != "" {
		c.SourceDomain, c.OfficialSource, _ = SourceDomain(c.URL)
	}

	all, err := s.update(ctx, uid, func(cur []Citation) ([]Citation, error) {
		return append(cur, c), nil
	})
	if err != nil {
		return Citation{}, 0, err
	}
	return c, len(all), nil
}

// Delete removes a citation and returns how many remain.
func (s *Service) Delete(ctx context.Context, uid int, id string) (int, error) {
	all, err := s.update(ctx, uid, func(cur []Citation) ([]Citation, error) {
		i := slices.IndexFunc(cur, func(c Citation) bool { return c.ID == id })
		if i < 0 {
			return nil, ErrNotFound
		}
		return slices.Delete(cur, i, i+1), nil
	})
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// Validate marks a citation checked now and refreshes its source domain.
func (s *Service) Validate(ctx context.Context, uid int, id string) (Citation, error) {
	var out Citation
	_, err := s.update(ctx, uid, func(cur []Citation) ([]Citation, error) {
		i := slices.IndexFunc(cur, func(c Citation) bool { return c.ID == id })
		if i < 0 {
			return nil, ErrNotFound
		}
		c := cur[i]
		c.Validated = true
		c.LastChecked = s.now().UTC()
		if c.URL != "" {
			c.SourceDomain, c.OfficialSource, _ = SourceDomain(c.URL)
		}
		cur[i] = c
		out = c
		return cur, nil
	})
	return out, err
}

// SampleCitations are the starter entries of a new library.
func SampleCitations(now time.Time) []Citation {
	now = now.UTC()
	cs := []Citation{
		{
			ID:        "1",
			Title:     "21 CFR Part 820 - Quality System Regulation",
			Standard:  "FDA QSR",
			Section:   "820.30",
			Type:      TypeRegulation,
			Date:      "2022-01-01",
			URL:       "https://www.fda.gov/21cfr820",
			Notes:     "Design control requirements for medical devices",
			Tags:      []string{"FDA", "design-controls", "medical-devices"},
			Validated: true,
		},
		{
			ID:        "2",
			Title:     "ISO 13485:2016 - Medical devices QMS",
			Standard:  "ISO 13485",
			Section:   "7.3",
			Type:      TypeStandard,
			Date:      "2016-03-01",
			URL:       "https://www.iso.org/standard/59752.html",
			Notes:     "Design and development requirements",
			Tags:      []string{"ISO", "QMS", "design-development"},
			Validated: true,
		},
		{
			ID:       "3",
			Title:    "EU MDR 2017/745 - Medical Device Regulation",
			Standard: "EU MDR",
			Section:  "Article 61",
			Type:     TypeRegulation,
			Date:     "2021-05-26",
			URL:      "https://eur-lex.europa.eu/legal-content/EN/TXT/?uri=CELEX:32017R0745",
			Notes:    "Clinical evaluation requirements",
			Tags:     []string{"EU", "clinical-evaluation", "MDR"},
		},
	}
	for i := range cs {
		cs[i].CreatedAt = now.AddDate(0, -3+i, 0)
		cs[i].LastChecked = now.AddDate(0, 0, -30*(i+1))
		cs[i].SourceDomain, cs[i].OfficialSource, _ = SourceDomain(cs[i].URL)
	}
	// the unvalidated sample is overdue for review
	cs[2].LastChecked = now.AddDate(0, 0, -120)
	return cs
}
