package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

type conversationStore struct {
	db *DB
}

const conversationCols = `id, agent_id, instance_id, contact_id, contact_name,
	current_mode, mode_changed_at, mode_changed_by,
	last_message_at, last_message_preview, consecutive_misses,
	archived_at, created_at`

func (s *conversationStore) Resolve(ctx context.Context, agentID uuid.UUID, instanceID, contactID, contactName string) (*store.Conversation, bool, error) {
	now := time.Now().UTC()
	id := store.NewID()

	// Insert-or-fetch: the unique index on (instance_id, contact_id) arbitrates
	// concurrent first contact. DO NOTHING plus re-read avoids the
	// read-then-write race of a lookup-first approach.
	res, err := s.db.exec(ctx, `
		INSERT INTO conversations
			(id, agent_id, instance_id, contact_id, contact_name,
			 current_mode, mode_changed_at, mode_changed_by, consecutive_misses, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'system', 0, $8)
		ON CONFLICT (instance_id, contact_id) DO NOTHING`,
		id.String(), agentID.String(), instanceID, contactID, contactName,
		string(store.ModeAutomated), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}
	inserted, _ := res.RowsAffected()

	conv, err := s.getByKey(ctx, instanceID, contactID)
	if err != nil {
		return nil, false, err
	}

	// Refresh the display name when the contact renamed themselves.
	if contactName != "" && contactName != conv.ContactName {
		if _, err := s.db.exec(ctx,
			`UPDATE conversations SET contact_name = $1 WHERE id = $2`,
			contactName, conv.ID.String()); err != nil {
			return nil, false, fmt.Errorf("update contact name: %w", err)
		}
		conv.ContactName = contactName
	}

	return conv, inserted > 0, nil
}

func (s *conversationStore) getByKey(ctx context.Context, instanceID, contactID string) (*store.Conversation, error) {
	row := s.db.queryRow(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE instance_id = $1 AND contact_id = $2`,
		instanceID, contactID)
	return scanConversation(row)
}

func (s *conversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	row := s.db.queryRow(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE id = $1`, id.String())
	return scanConversation(row)
}

func (s *conversationStore) List(ctx context.Context, instanceID string, limit int) ([]*store.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.query(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE instance_id = $1 AND archived_at IS NULL
		ORDER BY last_message_at DESC
		LIMIT $2`, instanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*store.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *conversationStore) Mode(ctx context.Context, id uuid.UUID) (store.Mode, error) {
	var mode string
	err := s.db.queryRow(ctx,
		`SELECT current_mode FROM conversations WHERE id = $1`, id.String()).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read mode: %w", err)
	}
	return store.Mode(mode), nil
}

func (s *conversationStore) TouchLastMessage(ctx context.Context, id uuid.UUID, preview string, at time.Time) error {
	if runes := []rune(preview); len(runes) > 200 {
		preview = string(runes[:200])
	}
	_, err := s.db.exec(ctx, `
		UPDATE conversations
		SET last_message_at = $1, last_message_preview = $2
		WHERE id = $3`, at.UTC(), preview, id.String())
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *conversationStore) SetConsecutiveMisses(ctx context.Context, id uuid.UUID, n int) error {
	_, err := s.db.exec(ctx,
		`UPDATE conversations SET consecutive_misses = $1 WHERE id = $2`, n, id.String())
	if err != nil {
		return fmt.Errorf("set consecutive misses: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var (
		c                  store.Conversation
		idStr, agentIDStr  string
		contactName        sql.NullString
		modeChangedBy      sql.NullString
		lastMessageAt      sql.NullTime
		lastMessagePreview sql.NullString
		archivedAt         sql.NullTime
		mode               string
	)
	err := row.Scan(&idStr, &agentIDStr, &c.InstanceID, &c.ContactID, &contactName,
		&mode, &c.ModeChangedAt, &modeChangedBy,
		&lastMessageAt, &lastMessagePreview, &c.ConsecutiveMisses,
		&archivedAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse conversation id: %w", err)
	}
	c.AgentID, err = uuid.Parse(agentIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse agent id: %w", err)
	}
	c.ContactName = contactName.String
	c.Mode = store.Mode(mode)
	c.ModeChangedBy = modeChangedBy.String
	c.LastMessagePreview = lastMessagePreview.String
	if lastMessageAt.Valid {
		t := lastMessageAt.Time
		c.LastMessageAt = &t
	}
	if archivedAt.Valid {
		t := archivedAt.Time
		c.ArchivedAt = &t
	}
	return &c, nil
}
