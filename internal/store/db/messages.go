package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

type messageStore struct {
	db *DB
}

func (s *messageStore) Append(ctx context.Context, m *store.Message) error {
	if m.ID == uuid.Nil {
		m.ID = store.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.exec(ctx, `
		INSERT INTO messages
			(id, conversation_id, origin, body, fingerprint, external_id, transmitted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID.String(), m.ConversationID.String(), string(m.Origin), m.Body,
		m.Fingerprint, m.ExternalID, m.Transmitted, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *messageStore) History(ctx context.Context, convID uuid.UUID, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	// Fetch newest-first, return chronological.
	rows, err := s.db.query(ctx, `
		SELECT id, conversation_id, origin, body, fingerprint, external_id, transmitted, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, convID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var newestFirst []*store.Message
	for rows.Next() {
		var (
			m            store.Message
			idStr, cvStr string
			origin       string
			fingerprint  sql.NullString
			externalID   sql.NullString
		)
		if err := rows.Scan(&idStr, &cvStr, &origin, &m.Body, &fingerprint, &externalID, &m.Transmitted, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID = uuid.MustParse(idStr)
		m.ConversationID = uuid.MustParse(cvStr)
		m.Origin = store.Origin(origin)
		m.Fingerprint = fingerprint.String
		m.ExternalID = externalID.String
		newestFirst = append(newestFirst, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*store.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(out)-1-i] = m
	}
	return out, nil
}

func (s *messageStore) MarkTransmitted(ctx context.Context, id uuid.UUID, transmitted bool) error {
	_, err := s.db.exec(ctx,
		`UPDATE messages SET transmitted = $1 WHERE id = $2`, transmitted, id.String())
	if err != nil {
		return fmt.Errorf("mark transmitted: %w", err)
	}
	return nil
}
