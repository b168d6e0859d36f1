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

type agentStore struct {
	db *DB
}

const agentCols = `id, instance_id, bridge_token, full_name, assistant_name,
	speaking_style, custom_instruction, active, created_at`

func (s *agentStore) GetByInstance(ctx context.Context, instanceID string) (*store.Agent, error) {
	row := s.db.queryRow(ctx, `
		SELECT `+agentCols+`
		FROM agents
		WHERE instance_id = $1 AND active`, instanceID)
	return scanAgent(row)
}

func (s *agentStore) Get(ctx context.Context, id uuid.UUID) (*store.Agent, error) {
	row := s.db.queryRow(ctx, `
		SELECT `+agentCols+`
		FROM agents
		WHERE id = $1`, id.String())
	return scanAgent(row)
}

func (s *agentStore) Put(ctx context.Context, a *store.Agent) error {
	if a.ID == uuid.Nil {
		a.ID = store.NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.exec(ctx, `
		INSERT INTO agents
			(id, instance_id, bridge_token, full_name, assistant_name,
			 speaking_style, custom_instruction, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (instance_id) DO UPDATE SET
			bridge_token = $10, full_name = $11, assistant_name = $12,
			speaking_style = $13, custom_instruction = $14, active = $15`,
		a.ID.String(), a.InstanceID, a.BridgeToken, a.FullName, a.AssistantName,
		a.SpeakingStyle, a.CustomInstruction, a.Active, a.CreatedAt,
		a.BridgeToken, a.FullName, a.AssistantName,
		a.SpeakingStyle, a.CustomInstruction, a.Active)
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

func scanAgent(row rowScanner) (*store.Agent, error) {
	var (
		a           store.Agent
		idStr       string
		custom      sql.NullString
		speakStyle  sql.NullString
		assistantNm sql.NullString
	)
	err := row.Scan(&idStr, &a.InstanceID, &a.BridgeToken, &a.FullName, &assistantNm,
		&speakStyle, &custom, &a.Active, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.ID = uuid.MustParse(idStr)
	a.AssistantName = assistantNm.String
	a.SpeakingStyle = speakStyle.String
	a.CustomInstruction = custom.String
	return &a, nil
}
