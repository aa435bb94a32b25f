// Package standards serves the static regulatory standards catalog and the
// per-user list of tracked standards.
package standards

import (
	_ "embed"
	"fmt"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/catalog.yaml
var catalogYAML []byte

type Section struct {
	ID              string   `yaml:"id" json:"id"`
	Title           string   `yaml:"title" json:"title"`
	Description     string   `yaml:"description" json:"description"`
	Requirements    []string `yaml:"requirements" json:"requirements"`
	KeyPoints       []string `yaml:"key_points" json:"key_points"`
	CommonPitfalls  []string `yaml:"common_pitfalls" json:"common_pitfalls"`
	AuditFocus      []string `yaml:"audit_focus" json:"audit_focus"`
	RelatedSections []string `yaml:"related_sections" json:"related_sections,omitempty"`
	ComplianceLevel string   `yaml:"compliance_level" json:"compliance_level"`
	EstimatedHours  int      `yaml:"estimated_hours" json:"estimated_hours"`
}

type Standard struct {
	ID                          string    `yaml:"id" json:"id"`
	Name                        string    `yaml:"name" json:"name"`
	FullName                    string    `yaml:"full_name" json:"full_name"`
	Region                      string    `yaml:"region" json:"region"`
	Category                    string    `yaml:"category" json:"category"`
	Description                 string    `yaml:"description" json:"description"`
	EffectiveDate               string    `yaml:"effective_date" json:"effective_date"`
	LastUpdated                 string    `yaml:"last_updated" json:"last_updated"`
	Applicability               []string  `yaml:"applicability" json:"applicability"`
	KeyBenefits                 []string  `yaml:"key_benefits" json:"key_benefits"`
	ImplementationTips          []string  `yaml:"implementation_tips" json:"implementation_tips"`
	CommonChallenges            []string  `yaml:"common_challenges" json:"common_challenges"`
	RelatedStandards            []string  `yaml:"related_standards" json:"related_standards"`
	EstimatedImplementationTime string    `yaml:"estimated_implementation_time" json:"estimated_implementation_time"`
	Tags                        []string  `yaml:"tags" json:"tags"`
	RiskLevel                   string    `yaml:"risk_level" json:"risk_level"`
	IndustryFocus               []string  `yaml:"industry_focus" json:"industry_focus"`
	Sections                    []Section `yaml:"sections" json:"sections"`
}

// searchText is everything a query term may match, lowercased.
func (s Standard) searchText() string {
	parts := []string{s.Name, s.FullName, s.Description, s.Region, s.Category}
	parts = append(parts, s.Tags...)
	parts = append(parts, s.Applicability...)
	parts = append(parts, s.IndustryFocus...)
	for _, sec := range s.Sections {
		parts = append(parts, sec.ID, sec.Title, sec.Description)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Facet is a category or region with the number of standards in it.
type Facet struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func facetID(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// Catalog is read-only after LoadCatalog and safe for concurrent use.
type Catalog struct {
	standards []Standard
	byID      map[string]int
}

// LoadCatalog parses the embedded catalog.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(catalogYAML)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Standards []Standard `yaml:"standards"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing standards catalog: %w", err)
	}

	c := &Catalog{standards: doc.Standards, byID: make(map[string]int, len(doc.Standards))}
	for i, s := range doc.Standards {
		if s.ID == "" {
			return nil, fmt.Errorf("standards catalog: entry %d has no id", i)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("standards catalog: duplicate id %q", s.ID)
		}
		c.byID[s.ID] = i
	}
	return c, nil
}

func (c *Catalog) All() []Standard {
	return slices.Clone(c.standards)
}

func (c *Catalog) Get(id string) (Standard, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Standard{}, false
	}
	return c.standards[i], true
}

func (c *Catalog) Section(standardID, sectionID string) (Section, bool) {
	s, ok := c.Get(standardID)
	if !ok {
		return Section{}, false
	}
	for _, sec := range s.Sections {
		if sec.ID == sectionID {
			return sec, true
		}
	}
	return Section{}, false
}

// Related returns the catalog entries listed as related; unknown ids are skipped.
func (c *Catalog) Related(id string) []Standard {
	s, ok := c.Get(id)
	if !ok {
		return nil
	}
	out := []Standard{}
	for _, rid := range s.RelatedStandards {
		if r, ok := c.Get(rid); ok {
			out = append(out, r)
		}
	}
	return out
}

type Query struct {
	Text     string
	Category string // facet id or name, "all" or empty for any
	Region   string
	Tags     []string // any tag matches (substring, case-insensitive)
}

// Search returns the standards matching every whitespace-separated term of
// q.Text plus the category, region and tag filters.
func (c *Catalog) Search(q Query) []Standard {
	terms := strings.Fields(strings.ToLower(q.Text))

	out := []Standard{}
	for _, s := range c.standards {
		if q.Category != "" && q.Category != "all" && facetID(q.Category) != facetID(s.Category) {
			continue
		}
		if q.Region != "" && q.Region != "all" && facetID(q.Region) != facetID(s.Region) {
			continue
		}
		if len(q.Tags) > 0 && !hasAnyTag(s, q.Tags) {
			continue
		}

		text := s.searchText()
		matched := true
		for _, t := range terms {
			if !strings.Contains(text, t) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, s)
		}
	}
	return out
}

func hasAnyTag(s Standard, tags []string) bool {
	for _, want := range tags {
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		for _, have := range s.Tags {
			if strings.Contains(strings.ToLower(have), want) {
				return true
			}
		}
	}
	return false
}

func (c *Catalog) Categories() []Facet {
	return c.facets("All Standards", func(s Standard) string { return s.Category })
}

func (c *Catalog) Regions() []Facet {
	return c.facets("All Regions", func(s Standard) string { return s.Region })
}

// facets counts standards per field value, in catalog order, after an "all" entry.
func (c *Catalog) facets(allName string, field func(Standard) string) []Facet {
	out := []Facet{{ID: "all", Name: allName, Count: len(c.standards)}}
	idx := map[string]int{}
	for _, s := range c.standards {
		name := field(s)
		if i, ok := idx[name]; ok {
			out[i].Count++
			continue
		}
		idx[name] = len(out)
		out = append(out, Facet{ID: facetID(name), Name: name, Count: 1})
	}
	return out
}

// Tags returns every tag once, sorted.
func (c *Catalog) Tags() []string {
	seen := map[string]bool{}
	var tags []string
	for _, s := range c.standards {
		for _, t := range s.Tags {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	sort.Strings(tags)
	return tags
}
