package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// PGStore appends to the audit_log table. The table rejects UPDATE and DELETE.
type PGStore struct {
	db *sqlx.DB
}

func NewPGStore(db *sqlx.DB) *PGStore {
	return &PGStore{db: db}
}

type entryRow struct {
	ID           string         `db:"id"`
	ActorID      string         `db:"actor_id"`
	Action       string         `db:"action"`
	ResourceType string         `db:"resource_type"`
	ResourceID   sql.NullString `db:"resource_id"`
	Before       []byte         `db:"before_state"`
	After        []byte         `db:"after_state"`
	OccurredAt   time.Time      `db:"occurred_at"`
	IP           sql.NullString `db:"ip"`
	Path         sql.NullString `db:"path"`
	Method       sql.NullString `db:"method"`
	RequestID    sql.NullString `db:"request_id"`
}

func (s *PGStore) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, actor_id, action, resource_type, resource_id, before_state, after_state, occurred_at, ip, path, method, request_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.ActorID, string(e.Action), e.ResourceType, nullable(e.ResourceID),
		jsonOrNull(e.Before), jsonOrNull(e.After), e.OccurredAt,
		nullable(e.IP), nullable(e.Path), nullable(e.Method), nullable(e.RequestID),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("actor_id", f.ActorID)
	add("action", string(f.Action))
	add("resource_type", f.ResourceType)
	add("resource_id", f.ResourceID)

	query := `select id, actor_id, action, resource_type, resource_id, before_state, after_state, occurred_at, ip, path, method, request_id from audit_log`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" order by occurred_at desc, id desc limit $%d", len(args))

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{
			ID:           r.ID,
			ActorID:      r.ActorID,
			Action:       Action(r.Action),
			ResourceType: r.ResourceType,
			ResourceID:   r.ResourceID.String,
			Before:       json.RawMessage(r.Before),
			After:        json.RawMessage(r.After),
			OccurredAt:   r.OccurredAt,
			IP:           r.IP.String,
			Path:         r.Path.String,
			Method:       r.Method.String,
			RequestID:    r.RequestID.String,
		})
	}
	return out, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func jsonOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
