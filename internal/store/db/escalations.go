package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

type escalationStore struct {
	db *DB
}

func (s *escalationStore) Append(ctx context.Context, e *store.Escalation) error {
	if e.ID == uuid.Nil {
		e.ID = store.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.exec(ctx, `
		INSERT INTO escalations
			(id, conversation_id, category, trigger_text, handoff_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID.String(), e.ConversationID.String(), e.Category, e.TriggerText, e.HandoffText, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append escalation: %w", err)
	}
	return nil
}

func (s *escalationStore) List(ctx context.Context, convID uuid.UUID, limit int) ([]*store.Escalation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.query(ctx, `
		SELECT id, conversation_id, category, trigger_text, handoff_text, created_at
		FROM escalations
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, convID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var out []*store.Escalation
	for rows.Next() {
		var (
			e            store.Escalation
			idStr, cvStr string
		)
		if err := rows.Scan(&idStr, &cvStr, &e.Category, &e.TriggerText, &e.HandoffText, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		e.ID = uuid.MustParse(idStr)
		e.ConversationID = uuid.MustParse(cvStr)
		out = append(out, &e)
	}
	return out, rows.Err()
}
