package goals

import "time"

// SampleGoals is written to an empty goals collection on first use. Dates are
// relative to now so the samples stay meaningful.
func SampleGoals(now time.Time) []Goal {
	day := 24 * time.Hour
	at := func(d int) Date { return DateOf(now.Add(time.Duration(d) * day)) }
	now = now.UTC()

	return []Goal{
		{
			ID:          "1",
			Title:       "FDA 510(k) Submission Readiness",
			Description: "Complete all requirements for FDA 510(k) premarket submission for Class II medical device",
			TargetDate:  at(75),
			Priority:    PriorityCritical,
			Category:    "certification",
			StandardIDs: []string{"FDA_QSR", "FDA_510K"},
			Progress:    65,
			Status:      StatusActive,
			Milestones: []Milestone{
				{ID: "m1", Title: "Design Controls Documentation", Description: "Complete all design control documentation per 21 CFR 820.30", TargetDate: at(-30), Completed: true, CompletedDate: at(-35), Progress: 100},
				{ID: "m2", Title: "Clinical Evaluation", Description: "Complete clinical evaluation and predicate device comparison", TargetDate: at(20), Progress: 80},
				{ID: "m3", Title: "Labeling Review", Description: "Finalize product labeling and user instructions", TargetDate: at(50), Progress: 30},
			},
			Metrics: Metrics{
				SectionsCompleted: 12,
				TotalSections:     18,
				AuditsCompleted:   2,
				DocumentsCreated:  24,
				TrainingSessions:  3,
				TimeSpentMinutes:  2400,
			},
			Dependencies: []string{},
			CreatedAt:    now.Add(-90 * day),
			UpdatedAt:    now,
		},
		{
			ID:          "2",
			Title:       "ISO 13485:2016 Certification",
			Description: "Achieve ISO 13485:2016 certification for quality management system",
			TargetDate:  at(150),
			Priority:    PriorityHigh,
			Category:    "certification",
			StandardIDs: []string{"ISO_13485"},
			Progress:    35,
			Status:      StatusActive,
			Milestones: []Milestone{
				{ID: "m4", Title: "Gap Analysis", Description: "Complete comprehensive gap analysis against ISO 13485:2016", TargetDate: at(-14), Completed: true, CompletedDate: at(-20), Progress: 100},
				{ID: "m5", Title: "QMS Implementation", Description: "Implement quality management system procedures", TargetDate: at(90), Progress: 45},
			},
			Metrics: Metrics{
				SectionsCompleted: 8,
				TotalSections:     23,
				AuditsCompleted:   1,
				DocumentsCreated:  15,
				TrainingSessions:  2,
				TimeSpentMinutes:  1800,
			},
			Dependencies: []string{},
			CreatedAt:    now.Add(-85 * day),
			UpdatedAt:    now,
		},
	}
}
