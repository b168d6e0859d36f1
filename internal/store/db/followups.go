package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

type followupStore struct {
	db *DB
}

func (s *followupStore) Schedule(ctx context.Context, f *store.Followup) error {
	if f.ID == uuid.Nil {
		f.ID = store.NewID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = store.FollowupPending
	}
	_, err := s.db.exec(ctx, `
		INSERT INTO followups (id, conversation_id, due_at, body, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID.String(), f.ConversationID.String(), f.DueAt.UTC(), f.Body, string(f.Status), f.CreatedAt)
	if err != nil {
		return fmt.Errorf("schedule followup: %w", err)
	}
	return nil
}

func (s *followupStore) Due(ctx context.Context, now time.Time, limit int) ([]*store.Followup, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.query(ctx, `
		SELECT id, conversation_id, due_at, body, status, cancelled_at, created_at
		FROM followups
		WHERE status = $1 AND due_at <= $2
		ORDER BY due_at
		LIMIT $3`, string(store.FollowupPending), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("load due followups: %w", err)
	}
	defer rows.Close()

	var out []*store.Followup
	for rows.Next() {
		var (
			f            store.Followup
			idStr, cvStr string
			status       string
			cancelledAt  sql.NullTime
		)
		if err := rows.Scan(&idStr, &cvStr, &f.DueAt, &f.Body, &status, &cancelledAt, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan followup: %w", err)
		}
		f.ID = uuid.MustParse(idStr)
		f.ConversationID = uuid.MustParse(cvStr)
		f.Status = store.FollowupStatus(status)
		if cancelledAt.Valid {
			t := cancelledAt.Time
			f.CancelledAt = &t
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *followupStore) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.exec(ctx, `
		UPDATE followups SET status = $1 WHERE id = $2`,
		string(store.FollowupDone), id.String())
	if err != nil {
		return fmt.Errorf("mark followup done: %w", err)
	}
	return nil
}

func (s *followupStore) CancelPending(ctx context.Context, convID uuid.UUID) (int, error) {
	res, err := s.db.exec(ctx, `
		UPDATE followups
		SET status = $1, cancelled_at = $2
		WHERE conversation_id = $3 AND status = $4`,
		string(store.FollowupCancelled), time.Now().UTC(), convID.String(), string(store.FollowupPending))
	if err != nil {
		return 0, fmt.Errorf("cancel followups: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
