package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pesio-ai/be-tr-cheques/internal/platform/errors"
	"github.com/pesio-ai/be-tr-cheques/internal/repository"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditRecorder appends and reads the audit trail.
type AuditRecorder struct {
	store repository.Store
	now   Clock
}

// NewAuditRecorder creates an AuditRecorder.
func NewAuditRecorder(store repository.Store, now Clock) *AuditRecorder {
	if now == nil {
		now = systemClock
	}
	return &AuditRecorder{store: store, now: now}
}

// Record appends one entry inside the caller's unit of work. Any error must
// abort that unit of work; it is never swallowed here.
func (a *AuditRecorder) Record(
	ctx context.Context,
	q repository.AuditQueries,
	actor, action string,
	entityType repository.EntityType,
	entityID int64,
	oldValue, newValue any,
) error {
	oldJSON, err := snapshot(oldValue)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode audit old value")
	}
	newJSON, err := snapshot(newValue)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode audit new value")
	}

	return q.InsertAudit(ctx, &repository.AuditLogEntry{
		Timestamp:  a.now(),
		Username:   actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OldValue:   oldJSON,
		NewValue:   newJSON,
	})
}

func snapshot(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return val, nil
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// AuditQuery filters the audit trail. Cursor is the NextCursor of a previous
// page.
type AuditQuery struct {
	EntityType repository.EntityType
	EntityID   *int64
	Username   string
	Action     string
	From       *time.Time
	Until      *time.Time
	Cursor     string
	Limit      int
}

// AuditPage is one page of entries in (timestamp, id) order.
type AuditPage struct {
	Entries    []*repository.AuditLogEntry `json:"entries"`
	NextCursor string                      `json:"nextCursor,omitempty"`
}

type auditCursor struct {
	Timestamp time.Time `json:"ts"`
	ID        int64     `json:"id"`
}

func encodeAuditCursor(e *repository.AuditLogEntry) string {
	raw, _ := json.Marshal(auditCursor{Timestamp: e.Timestamp, ID: e.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeAuditCursor(s string) (*auditCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.InvalidInput("cursor", "malformed cursor")
	}
	var c auditCursor
	if err := json.Unmarshal(raw, &c); err != nil || c.Timestamp.IsZero() {
		return nil, errors.InvalidInput("cursor", "malformed cursor")
	}
	return &c, nil
}

// Query returns entries ordered by timestamp, then id. Paging is restartable:
// passing NextCursor back resumes right after the last entry returned.
func (a *AuditRecorder) Query(ctx context.Context, query AuditQuery) (*AuditPage, error) {
	limit := query.Limit
	switch {
	case limit <= 0:
		limit = defaultAuditPageSize
	case limit > maxAuditPageSize:
		limit = maxAuditPageSize
	}
	if query.From != nil && query.Until != nil && !query.From.Before(*query.Until) {
		return nil, errors.InvalidInput("until", "must be after from")
	}

	filter := repository.AuditFilter{
		EntityType: query.EntityType,
		EntityID:   query.EntityID,
		Username:   query.Username,
		Action:     query.Action,
		From:       query.From,
		Until:      query.Until,
		Limit:      limit + 1,
	}
	if query.Cursor != "" {
		c, err := decodeAuditCursor(query.Cursor)
		if err != nil {
			return nil, err
		}
		filter.AfterTimestamp = &c.Timestamp
		filter.AfterID = c.ID
	}

	var entries []*repository.AuditLogEntry
	err := a.store.Read(ctx, func(q repository.Queries) error {
		var err error
		entries, err = q.QueryAudit(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &AuditPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.NextCursor = encodeAuditCursor(page.Entries[limit-1])
	}
	if page.Entries == nil {
		page.Entries = []*repository.AuditLogEntry{}
	}
	return page, nil
}
