package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"compliance-backend/internal/db"
	"compliance-backend/internal/kv"
)

type CtxKey string

const (
	ctxUserIDKey CtxKey = "analytics_user_id"
)

// Envelope is what we store with every event.
type Envelope struct {
	UserID       int
	SessionID    string
	Platform     string
	AppVersion   string
	DeviceLocale string
}

// FromRequest extracts event envelope fields from request.
// Backend-trustable fields only.
func FromRequest(r *http.Request) Envelope {
	platform := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Platform")))
	switch platform {
	case "ios", "android", "web":
	default:
		platform = "unknown"
	}

	locale := strings.TrimSpace(r.Header.Get("Accept-Language"))
	if locale == "" {
		locale = strings.TrimSpace(r.Header.Get("X-Device-Locale"))
	}

	return Envelope{
		SessionID:    strings.TrimSpace(r.Header.Get("X-Session-Id")),
		Platform:     platform,
		AppVersion:   strings.TrimSpace(r.Header.Get("X-App-Version")),
		DeviceLocale: locale,
	}
}

func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, ctxUserIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (int, bool) {
	v := ctx.Value(ctxUserIDKey)
	if v == nil {
		return 0, false
	}
	uid, ok := v.(int)
	return uid, ok
}

// Client-provided idempotency key (optional)
// If present and duplicates, insert is ignored.
func SourceEventKeyFromRequest(r *http.Request) string {
	// preferred: Idempotency-Key header
	k := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if k != "" {
		return k
	}
	return strings.TrimSpace(r.Header.Get("X-Source-Event-Key"))
}

// Tracker writes analytics events to the analytics_events table and keeps the
// per-user activity feed.
type Tracker struct {
	db  *db.DB
	c   *kv.Collections
	log *zap.Logger
	now func() time.Time
}

func NewTracker(d *db.DB, c *kv.Collections, log *zap.Logger) *Tracker {
	return &Tracker{db: d, c: c, log: log, now: time.Now}
}

// Log inserts one analytics event.
// Never logs sensitive raw text; caller passes sanitized props.
func (t *Tracker) Log(ctx context.Context, env Envelope, eventName string, props any, sourceEventKey string) error {
	if eventName == "" {
		return nil
	}

	userID := env.UserID
	if userID == 0 {
		uid, ok := UserIDFromContext(ctx)
		if !ok {
			// no user => skip
			return nil
		}
		userID = uid
	}

	b, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encoding %s properties: %w", eventName, err)
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO analytics_events (
			event_name, event_time,
			user_id, session_id,
			platform, app_version, device_locale,
			source_event_key,
			properties
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_event_key) DO NOTHING
	`, eventName, t.now().UTC().UnixMilli(),
		userID, nullIfEmpty(env.SessionID),
		env.Platform, env.AppVersion, nullIfEmpty(env.DeviceLocale),
		nullIfEmpty(sourceEventKey),
		string(b),
	)
	if err != nil {
		t.log.Warn("analytics insert failed", zap.String("event", eventName), zap.Int("user_id", userID), zap.Error(err))
		return fmt.Errorf("inserting %s: %w", eventName, err)
	}
	return nil
}

// CountEvents returns how many events named eventName the user has.
func (t *Tracker) CountEvents(ctx context.Context, userID int, eventName string) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM analytics_events WHERE user_id = $1 AND event_name = $2
	`, userID, eventName).Scan(&n)
	return n, err
}

// DeleteUser removes every analytics event of the user.
func (t *Tracker) DeleteUser(ctx context.Context, tx *db.Tx, userID int) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM analytics_events WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete analytics_events: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
