package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"transformer_monitor/internal/models"

	"github.com/google/uuid"
)

// sqliteTimeLayout matches SQLite's TIMESTAMP text form.
const sqliteTimeLayout = "2006-01-02 15:04:05"

const (
	insertJournalSQL = `
		INSERT INTO acquisition_events (id, occurred_at, type, description, metadata)
		VALUES (?, ?, ?, ?, ?)
	`
	selectJournalSQL = `SELECT id, occurred_at, type, description, metadata FROM acquisition_events`
	pruneJournalSQL  = `DELETE FROM acquisition_events WHERE occurred_at < ?`
)

type JournalSQLite struct {
	db *sql.DB
}

func NewJournalSQLite(db *sql.DB) *JournalSQLite { return &JournalSQLite{db: db} }

// Append inserts one journal entry, filling in EventID and OccurredAt when empty.
func (r *JournalSQLite) Append(ctx context.Context, e models.AcquisitionEvent) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	} else {
		e.OccurredAt = e.OccurredAt.UTC()
	}

	var meta *string
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal journal metadata: %w", err)
		}
		s := string(b)
		meta = &s
	}

	_, err := r.db.ExecContext(ctx, insertJournalSQL,
		e.EventID,
		e.OccurredAt.Format(sqliteTimeLayout),
		strings.ToUpper(strings.TrimSpace(e.Type)),
		e.Description,
		meta,
	)
	if err != nil {
		return fmt.Errorf("append journal event: %w", err)
	}
	return nil
}

// List returns entries within [from, to] and of type typ, oldest first.
// Zero bounds and an empty type are not filtered on.
func (r *JournalSQLite) List(ctx context.Context, from, to time.Time, typ string) ([]models.AcquisitionEvent, error) {
	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, from.UTC().Format(sqliteTimeLayout))
	}
	if !to.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, to.UTC().Format(sqliteTimeLayout))
	}
	if typ = strings.ToUpper(strings.TrimSpace(typ)); typ != "" {
		conds = append(conds, "type = ?")
		args = append(args, typ)
	}

	q := selectJournalSQL
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	out := make([]models.AcquisitionEvent, 0, 64)
	for rows.Next() {
		var (
			ev   models.AcquisitionEvent
			meta sql.NullString
		)
		if err := rows.Scan(&ev.EventID, &ev.OccurredAt, &ev.Type, &ev.Description, &meta); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		ev.OccurredAt = ev.OccurredAt.UTC()

		if meta.Valid && meta.String != "" {
			var v any
			if err := json.Unmarshal([]byte(meta.String), &v); err == nil {
				ev.Metadata = v
			} else {
				ev.Metadata = meta.String
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return out, nil
}

// Prune deletes entries older than before and reports how many went.
func (r *JournalSQLite) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, pruneJournalSQL, before.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return n, nil
}
