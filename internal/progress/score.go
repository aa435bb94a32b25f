package progress

import "math"

const (
	progressWeight   = 0.4
	timelinessWeight = 0.3
	completionWeight = 0.3
)

type Score struct {
	Score      int `json:"score"`
	Progress   int `json:"progress"`
	Timeliness int `json:"timeliness"`
	Completion int `json:"completion"`
}

// ComplianceScore weighs average progress, the share of goals not overdue and
// the share completed. Zero without goals.
func ComplianceScore(m Metrics) Score {
	if m.TotalGoals == 0 {
		return Score{}
	}
	total := float64(m.TotalGoals)
	timeliness := math.Max(0, 100*(1-float64(m.OverdueGoals)/total))
	completion := 100 * float64(m.CompletedGoals) / total

	score := progressWeight*float64(m.AverageProgress) + timelinessWeight*timeliness + completionWeight*completion
	return Score{
		Score:      int(math.Round(score)),
		Progress:   m.AverageProgress,
		Timeliness: int(math.Round(timeliness)),
		Completion: int(math.Round(completion)),
	}
}
