package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const auditColumns = `id, "timestamp", username, action, entity_type, entity_id, old_value, new_value`

// InsertAudit appends one entry. The table rejects UPDATE and DELETE, so this
// is the only write it accepts.
func (q *queries) InsertAudit(ctx context.Context, entry *AuditLogEntry) error {
	query := `
		INSERT INTO audit_log
		    ("timestamp", username, action, entity_type, entity_id, old_value, new_value)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb)
		RETURNING id
	`
	err := q.db.QueryRow(ctx, query,
		entry.Timestamp,
		entry.Username,
		entry.Action,
		string(entry.EntityType),
		entry.EntityID,
		nullableJSON(entry.OldValue),
		nullableJSON(entry.NewValue),
	).Scan(&entry.ID)
	return mapPgError(err, "failed to append audit entry")
}

func (q *queries) QueryAudit(ctx context.Context, filter AuditFilter) ([]*AuditLogEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.EntityType != "" {
		add("entity_type = $%d", string(filter.EntityType))
	}
	if filter.EntityID != nil {
		add("entity_id = $%d", *filter.EntityID)
	}
	if filter.Username != "" {
		add("username = $%d", filter.Username)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.From != nil {
		add(`"timestamp" >= $%d`, *filter.From)
	}
	if filter.Until != nil {
		add(`"timestamp" < $%d`, *filter.Until)
	}
	if filter.AfterTimestamp != nil {
		args = append(args, *filter.AfterTimestamp, filter.AfterID)
		where = append(where, fmt.Sprintf(`("timestamp", id) > ($%d, $%d)`, len(args)-1, len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY "timestamp", id LIMIT $%d`, len(args))

	return q.listAudit(ctx, query, args...)
}

func (q *queries) ListAuditAfter(ctx context.Context, afterID int64, until time.Time, limit int) ([]*AuditLogEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_log
		WHERE id > $1 AND "timestamp" <= $2
		ORDER BY id
		LIMIT $3
	`
	return q.listAudit(ctx, query, afterID, until, limit)
}

func (q *queries) listAudit(ctx context.Context, query string, args ...any) ([]*AuditLogEntry, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err, "failed to query audit log")
	}
	defer rows.Close()

	var entries []*AuditLogEntry
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, mapPgError(err, "failed to scan audit entry")
		}
		entries = append(entries, entry)
	}
	return entries, mapPgError(rows.Err(), "failed to query audit log")
}

func scanAudit(row scanner) (*AuditLogEntry, error) {
	entry := &AuditLogEntry{}
	var oldValue, newValue []byte
	err := row.Scan(
		&entry.ID,
		&entry.Timestamp,
		&entry.Username,
		&entry.Action,
		&entry.EntityType,
		&entry.EntityID,
		&oldValue,
		&newValue,
	)
	if err != nil {
		return nil, err
	}
	if oldValue != nil {
		entry.OldValue = json.RawMessage(oldValue)
	}
	if newValue != nil {
		entry.NewValue = json.RawMessage(newValue)
	}
	return entry, nil
}
