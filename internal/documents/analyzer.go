// Package documents stores gap analyses of uploaded quality documents.
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"compliance-backend/internal/ai"
)

type GapType string

const (
	GapMissing      GapType = "missing"
	GapIncomplete   GapType = "incomplete"
	GapOutdated     GapType = "outdated"
	GapNonCompliant GapType = "non-compliant"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var (
	gapTypes   = []GapType{GapMissing, GapIncomplete, GapOutdated, GapNonCompliant}
	severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
)

type Gap struct {
	ID             string   `json:"id"`
	Type           GapType  `json:"type"`
	Severity       Severity `json:"severity"`
	Section        string   `json:"section"`
	Requirement    string   `json:"requirement"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
	Standard       string   `json:"standard"`
	Evidence       string   `json:"evidence,omitempty"`
	PageReference  string   `json:"page_reference,omitempty"`
}

// Result is what one analysis produces.
type Result struct {
	Gaps            []Gap
	ComplianceScore int
	Recommendations []string
	// Fallback is set when the built-in analysis was used.
	Fallback bool
}

const defaultScore = 73

func defaultRecommendations() []string {
	return []string{
		"Implement comprehensive document control system per ISO 13485:2016",
		"Enhance design control procedures with detailed V&V protocols",
		"Update process monitoring to current industry standards",
		"Establish formal review schedule for all quality documentation",
	}
}

func defaultGaps() []Gap {
	return []Gap{
		{
			ID:             "1",
			Type:           GapMissing,
			Severity:       SeverityCritical,
			Section:        "4.2 Documentation Requirements",
			Requirement:    "ISO 13485:2016 - 4.2.3 Control of Documents",
			Description:    "Document control procedures are not adequately defined. Missing approval workflows and version control mechanisms.",
			Recommendation: "Implement formal document control procedure with approval workflows, version control, and distribution tracking per ISO 13485:2016 section 4.2.3.",
			Standard:       "ISO_13485",
			Evidence:       "No document control matrix or approval signatures found in quality manual.",
			PageReference:  "5-7",
		},
		{
			ID:             "2",
			Type:           GapIncomplete,
			Severity:       SeverityHigh,
			Section:        "7.3 Design and Development",
			Requirement:    "FDA QSR 820.30 - Design Controls",
			Description:    "Design control procedures exist but lack detailed verification and validation protocols.",
			Recommendation: "Expand design control section to include specific verification and validation requirements, acceptance criteria, and documentation requirements.",
			Standard:       "FDA_QSR",
			Evidence:       "Design control section mentions V&V but provides no specific protocols.",
			PageReference:  "12-15",
		},
		{
			ID:             "3",
			Type:           GapOutdated,
			Severity:       SeverityMedium,
			Section:        "8.2.6 Monitoring and Measurement",
			Requirement:    "ISO 13485:2016 - 8.2.6 Monitoring and measurement of processes",
			Description:    "Process monitoring procedures reference outdated measurement techniques and KPIs.",
			Recommendation: "Update process monitoring procedures to align with current industry best practices and ISO 13485:2016 requirements.",
			Standard:       "ISO_13485",
			Evidence:       "References to deprecated measurement tools and outdated quality metrics.",
			PageReference:  "23",
		},
	}
}

// DefaultResult is the built-in analysis.
func DefaultResult() Result {
	return Result{
		Gaps:            defaultGaps(),
		ComplianceScore: defaultScore,
		Recommendations: defaultRecommendations(),
		Fallback:        true,
	}
}

var ErrAnalysisFailed = errors.New("document analysis failed")

type Analyzer struct {
	c ai.Completer
}

// NewAnalyzer accepts a nil completer; every analysis then uses the
// built-in result.
func NewAnalyzer(c ai.Completer) *Analyzer {
	return &Analyzer{c: c}
}

type modelAnswer struct {
	Gaps            []Gap    `json:"gaps"`
	ComplianceScore *int     `json:"compliance_score"`
	Recommendations []string `json:"recommendations"`
}

// Analyze runs the model over the document. A transport failure is returned
// wrapped in ErrAnalysisFailed; an answer that is not the expected JSON
// yields DefaultResult.
func (a *Analyzer) Analyze(ctx context.Context, fileName string, standards []string, content string) (Result, error) {
	if a.c == nil {
		return DefaultResult(), nil
	}

	raw, err := a.c.Complete(ctx, ai.BuildDocumentPrompt(fileName, standards, content))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}

	var ans modelAnswer
	if err := json.Unmarshal([]byte(raw), &ans); err != nil || ans.Gaps == nil {
		return DefaultResult(), nil
	}

	res := Result{ComplianceScore: defaultScore, Recommendations: ans.Recommendations}
	if ans.ComplianceScore != nil {
		res.ComplianceScore = min(max(*ans.ComplianceScore, 0), 100)
	}
	if len(res.Recommendations) == 0 {
		res.Recommendations = defaultRecommendations()
	}
	res.Gaps = []Gap{}
	for _, g := range ans.Gaps {
		// gaps outside the known vocabulary cannot be filtered or summarized
		if !slices.Contains(gapTypes, g.Type) || !slices.Contains(severities, g.Severity) {
			continue
		}
		g.ID = strconv.Itoa(len(res.Gaps) + 1)
		res.Gaps = append(res.Gaps, g)
	}
	return res, nil
}
