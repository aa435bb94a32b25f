package documents

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"compliance-backend/internal/kv"
)

const Key = "analyzed-documents"

const (
	MaxFileSize  = 10 << 20 // 10MB
	MaxDocuments = 50
)

var ErrNotFound = errors.New("document not found")

type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

type Summary struct {
	TotalGaps            int      `json:"total_gaps"`
	CriticalGaps         int      `json:"critical_gaps"`
	CompliancePercentage int      `json:"compliance_percentage"`
	Recommendations      []string `json:"recommendations"`
}

type Analysis struct {
	ID                string     `json:"id"`
	FileName          string     `json:"file_name"`
	UploadDate        time.Time  `json:"upload_date"`
	FileSize          string     `json:"file_size"`
	FileType          string     `json:"file_type"`
	Status            Status     `json:"status"`
	Progress          int        `json:"progress"`
	StandardsAnalyzed []string   `json:"standards_analyzed"`
	ComplianceScore   int        `json:"compliance_score"`
	Gaps              []Gap      `json:"gaps"`
	Summary           Summary    `json:"summary"`
	AnalysisDate      *time.Time `json:"analysis_date,omitempty"`
	FallbackAnalysis  bool       `json:"fallback_analysis"`
}

type StandardOption struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// AvailableStandards are the standards a document can be analyzed against.
func AvailableStandards() []StandardOption {
	return []StandardOption{
		{ID: "FDA_QSR", Name: "FDA QSR (21 CFR 820)", Category: "Medical Devices"},
		{ID: "ISO_13485", Name: "ISO 13485:2016", Category: "Medical Devices"},
		{ID: "EU_MDR", Name: "EU MDR 2017/745", Category: "Medical Devices"},
		{ID: "ISO_14971", Name: "ISO 14971:2019", Category: "Risk Management"},
		{ID: "FDA_510K", Name: "FDA 510(k) Pathway", Category: "FDA Submissions"},
		{ID: "ISO_27001", Name: "ISO 27001:2022", Category: "Information Security"},
	}
}

var allowedTypes = []string{".pdf", ".docx", ".doc", ".txt"}

// FormatFileSize renders bytes the way the upload list shows them
// ("2.4 MB", "512 Bytes").
func FormatFileSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB"}
	i := min(int(math.Floor(math.Log(float64(n))/math.Log(1024))), len(units)-1)
	v := math.Round(float64(n)/math.Pow(1024, float64(i))*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + units[i]
}

func summarize(r Result) Summary {
	s := Summary{TotalGaps: len(r.Gaps), CompliancePercentage: r.ComplianceScore, Recommendations: r.Recommendations}
	for _, g := range r.Gaps {
		if g.Severity == SeverityCritical {
			s.CriticalGaps++
		}
	}
	return s
}

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type Upload struct {
	FileName  string   `json:"file_name"`
	Content   string   `json:"content"`
	Size      int64    `json:"size"`
	Standards []string `json:"standards"`
}

func (u *Upload) normalize() (fileType string, err error) {
	u.FileName = strings.TrimSpace(u.FileName)
	if u.FileName == "" {
		return "", &ValidationError{Msg: "file_name is required"}
	}
	fileType = strings.ToLower(filepath.Ext(u.FileName))
	if !slices.Contains(allowedTypes, fileType) {
		return "", &ValidationError{Msg: "please upload a PDF, Word document, or text file"}
	}
	if u.Size <= 0 {
		u.Size = int64(len(u.Content))
	}
	if u.Size > MaxFileSize {
		return "", &ValidationError{Msg: "file size must be less than 10MB"}
	}
	if len(u.Standards) == 0 {
		u.Standards = []string{"FDA_QSR"}
	}
	known := AvailableStandards()
	for _, id := range u.Standards {
		if !slices.ContainsFunc(known, func(o StandardOption) bool { return o.ID == id }) {
			return "", &ValidationError{Msg: fmt.Sprintf("unknown standard %q", id)}
		}
	}
	return fileType, nil
}

type Options struct {
	Now         func() time.Time
	SeedSamples bool
}

type Service struct {
	c    *kv.Collections
	an   *Analyzer
	now  func() time.Time
	seed bool
}

func NewService(c *kv.Collections, an *Analyzer, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{c: c, an: an, now: opts.Now, seed: opts.SeedSamples}
}

func Schema() kv.Schema {
	return kv.Schema{Key: Key, Version: 1}
}

func (s *Service) initial(cur []Analysis) []Analysis {
	if cur != nil {
		return cur
	}
	if s.seed {
		return []Analysis{SampleAnalysis(s.now())}
	}
	return []Analysis{}
}

func (s *Service) update(ctx context.Context, uid int, fn func([]Analysis) ([]Analysis, error)) ([]Analysis, error) {
	return kv.Update[[]Analysis](ctx, s.c, uid, Key, nil, func(cur []Analysis) ([]Analysis, error) {
		return fn(slices.Clone(s.initial(cur)))
	})
}

// List returns analyses newest first.
func (s *Service) List(ctx context.Context, uid int) ([]Analysis, error) {
	cur, err := kv.Read[[]Analysis](ctx, s.c, uid, Key, nil)
	if err != nil {
		return nil, err
	}
	if cur == nil && s.seed {
		return s.update(ctx, uid, func(all []Analysis) ([]Analysis, error) { return all, nil })
	}
	return s.initial(cur), nil
}

func (s *Service) Get(ctx context.Context, uid int, id string) (Analysis, error) {
	all, err := s.List(ctx, uid)
	if err != nil {
		return Analysis{}, err
	}
	for _, a := range all {
		if a.ID == id {
			return a, nil
		}
	}
	return Analysis{}, ErrNotFound
}

func (s *Service) Delete(ctx context.Context, uid int, id string) error {
	_, err := s.update(ctx, uid, func(cur []Analysis) ([]Analysis, error) {
		i := slices.IndexFunc(cur, func(a Analysis) bool { return a.ID == id })
		if i < 0 {
			return nil, ErrNotFound
		}
		return slices.Delete(cur, i, i+1), nil
	})
	return err
}

// Analyze validates the upload, runs the analysis and stores the record.
// The record is stored even when the analysis fails; it then has status
// error and the returned error wraps ErrAnalysisFailed.
func (s *Service) Analyze(ctx context.Context, uid int, up Upload) (Analysis, error) {
	fileType, err := up.normalize()
	if err != nil {
		return Analysis{}, err
	}

	now := s.now().UTC()
	doc := Analysis{
		ID:                uuid.NewString(),
		FileName:          up.FileName,
		UploadDate:        now,
		FileSize:          FormatFileSize(up.Size),
		FileType:          fileType,
		StandardsAnalyzed: up.Standards,
		Gaps:              []Gap{},
		Summary:           Summary{Recommendations: []string{}},
	}

	res, aerr := s.an.Analyze(ctx, up.FileName, up.Standards, up.Content)
	if aerr != nil {
		doc.Status = StatusError
	} else {
		at := s.now().UTC()
		doc.Status = StatusCompleted
		doc.Progress = 100
		doc.Gaps = res.Gaps
		doc.ComplianceScore = res.ComplianceScore
		doc.Summary = summarize(res)
		doc.AnalysisDate = &at
		doc.FallbackAnalysis = res.Fallback
	}

	_, err = s.update(ctx, uid, func(cur []Analysis) ([]Analysis, error) {
		cur = append([]Analysis{doc}, cur...)
		if len(cur) > MaxDocuments {
			cur = cur[:MaxDocuments]
		}
		return cur, nil
	})
	if err != nil {
		return Analysis{}, err
	}
	return doc, aerr
}

type GapFilter struct {
	Type     string
	Severity string
}

// FilterGaps keeps gaps of the type and severity, "all" or empty matching any.
func FilterGaps(gaps []Gap, f GapFilter) []Gap {
	out := []Gap{}
	for _, g := range gaps {
		if f.Type != "" && f.Type != "all" && string(g.Type) != f.Type {
			continue
		}
		if f.Severity != "" && f.Severity != "all" && string(g.Severity) != f.Severity {
			continue
		}
		out = append(out, g)
	}
	return out
}

// SampleAnalysis is the starter record of a new user.
func SampleAnalysis(now time.Time) Analysis {
	at := now.UTC().Add(-48 * time.Hour)
	res := DefaultResult()
	return Analysis{
		ID:                "sample-1",
		FileName:          "Quality_Manual_v2.1.pdf",
		UploadDate:        at,
		FileSize:          "2.4 MB",
		FileType:          ".pdf",
		Status:            StatusCompleted,
		Progress:          100,
		StandardsAnalyzed: []string{"FDA_QSR", "ISO_13485"},
		ComplianceScore:   res.ComplianceScore,
		Gaps:              res.Gaps,
		Summary:           summarize(res),
		AnalysisDate:      &at,
	}
}
