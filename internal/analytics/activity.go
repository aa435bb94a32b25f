package analytics

import (
	"context"

	"github.com/google/uuid"

	"compliance-backend/internal/kv"
)

const ActivityKey = "user-activity-feed"

// ActivityLimit caps the feed; older items are dropped.
const ActivityLimit = 50

type ActivityType string

const (
	ActivityStandardAdded    ActivityType = "standard-added"
	ActivitySectionCompleted ActivityType = "section-completed"
	ActivityGoalCreated      ActivityType = "goal-created"
	ActivityGoalCompleted    ActivityType = "goal-completed"
	ActivityAuditCompleted   ActivityType = "audit-completed"
	ActivityCitationAdded    ActivityType = "citation-added"
	ActivityDocumentAnalyzed ActivityType = "document-analyzed"
)

type ActivityItem struct {
	ID          string         `json:"id"`
	Type        ActivityType   `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Timestamp   int64          `json:"timestamp"`
	StandardID  string         `json:"standard_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func ActivitySchema() kv.Schema {
	return kv.Schema{Key: ActivityKey, Version: 1}
}

// AddActivity puts item at the head of the user's feed.
func (t *Tracker) AddActivity(ctx context.Context, userID int, item ActivityItem) (ActivityItem, error) {
	item.ID = uuid.NewString()
	item.Timestamp = t.now().UTC().UnixMilli()

	_, err := kv.Update(ctx, t.c, userID, ActivityKey, []ActivityItem{}, func(feed []ActivityItem) ([]ActivityItem, error) {
		feed = append([]ActivityItem{item}, feed...)
		if len(feed) > ActivityLimit {
			feed = feed[:ActivityLimit]
		}
		return feed, nil
	})
	return item, err
}

// Activity returns the feed newest first, at most limit items (all when limit <= 0).
func (t *Tracker) Activity(ctx context.Context, userID, limit int) ([]ActivityItem, error) {
	feed, err := kv.Read(ctx, t.c, userID, ActivityKey, []ActivityItem{})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(feed) > limit {
		feed = feed[:limit]
	}
	return feed, nil
}
