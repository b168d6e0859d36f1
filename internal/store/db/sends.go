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

type sendRecordStore struct {
	db *DB
}

func (s *sendRecordStore) Get(ctx context.Context, idempotencyKey string) (*store.SendRecord, error) {
	var (
		rec          store.SendRecord
		cvStr, msStr string
		status       string
		resp         sql.NullString
	)
	err := s.db.queryRow(ctx, `
		SELECT idempotency_key, conversation_id, message_id, status, transport_response, created_at
		FROM send_records
		WHERE idempotency_key = $1`, idempotencyKey).
		Scan(&rec.IdempotencyKey, &cvStr, &msStr, &status, &resp, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load send record: %w", err)
	}
	rec.ConversationID = uuid.MustParse(cvStr)
	rec.MessageID = uuid.MustParse(msStr)
	rec.Status = store.SendStatus(status)
	rec.TransportResponse = resp.String
	return &rec, nil
}

// Record upserts the outcome row. The unique constraint on idempotency_key
// enforces at most one row per key. A FAILED row may be upgraded by a later
// retry's outcome; SENT and SUPPRESSED rows are terminal and never change.
func (s *sendRecordStore) Record(ctx context.Context, rec *store.SendRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.exec(ctx, `
		INSERT INTO send_records
			(idempotency_key, conversation_id, message_id, status, transport_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = EXCLUDED.status,
		    message_id = EXCLUDED.message_id,
		    transport_response = EXCLUDED.transport_response
		WHERE send_records.status = 'FAILED'`,
		rec.IdempotencyKey, rec.ConversationID.String(), rec.MessageID.String(),
		string(rec.Status), rec.TransportResponse, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	return nil
}
