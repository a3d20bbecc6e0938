package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"library-lending/internal/model"
	"library-lending/internal/repository"
)

type AuditStore struct {
	s *Store
}

var _ repository.AuditStore = (*AuditStore)(nil)

func (r *AuditStore) Log(ctx context.Context, entry model.AuditEntry) error {
	var details sql.NullString
	if entry.Details != nil {
		encoded, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, action, occurred_at, actor, resource, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, formatTime(entry.OccurredAt), entry.Actor, entry.Resource, details)
	if err != nil {
		return storageErr("log audit entry", err)
	}
	return nil
}

func (r *AuditStore) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	query = query.Normalize()

	where := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if action := strings.TrimSpace(query.Action); action != "" {
		where = append(where, "lower(action) = lower(?)")
		args = append(args, action)
	}
	if actor := strings.TrimSpace(query.Actor); actor != "" {
		where = append(where, "lower(actor) = lower(?)")
		args = append(args, actor)
	}
	if !query.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, formatTime(query.From))
	}
	if !query.To.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, formatTime(query.To))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries "+whereClause, args...).Scan(&total); err != nil {
		return nil, model.Meta{}, storageErr("count audit entries", err)
	}
	meta := model.NewMeta(query.Page, query.Limit, total)

	args = append(args, query.Limit, (query.Page-1)*query.Limit)
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT id, action, occurred_at, actor, resource, details
		 FROM audit_entries `+whereClause+`
		 ORDER BY occurred_at DESC
		 LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, model.Meta{}, storageErr("query audit entries", err)
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0)
	for rows.Next() {
		var (
			e          model.AuditEntry
			occurredAt string
			details    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Action, &occurredAt, &e.Actor, &e.Resource, &details); err != nil {
			return nil, model.Meta{}, storageErr("scan audit entry", err)
		}
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, model.Meta{}, storageErr("scan audit entry", err)
		}
		if details.Valid && details.String != "" {
			var decoded any
			if jsonErr := json.Unmarshal([]byte(details.String), &decoded); jsonErr == nil {
				e.Details = decoded
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Meta{}, storageErr("query audit entries", err)
	}

	return entries, meta, nil
}
