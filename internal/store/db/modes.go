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

type modeStore struct {
	db *DB
}

// SetMode performs the three writes of a mode transition in one transaction:
// conversation row, audit log append, pending follow-up cancellation. If any
// write fails the transition did not happen.
func (s *modeStore) SetMode(ctx context.Context, convID uuid.UUID, target store.Mode, actor, reason string) (store.Mode, error) {
	if !target.Valid() {
		return "", fmt.Errorf("set mode: invalid target mode %q", target)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin mode transition: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var prev string
	err = tx.QueryRowContext(ctx, s.db.rebind(
		`SELECT current_mode FROM conversations WHERE id = $1`), convID.String()).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read current mode: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.db.rebind(`
		UPDATE conversations
		SET current_mode = $1, mode_changed_at = $2, mode_changed_by = $3
		WHERE id = $4`),
		string(target), now, actor, convID.String()); err != nil {
		return "", fmt.Errorf("update mode: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.db.rebind(`
		INSERT INTO mode_changes (id, conversation_id, from_mode, to_mode, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		store.NewID().String(), convID.String(), prev, string(target), actor, reason, now); err != nil {
		return "", fmt.Errorf("append mode change: %w", err)
	}

	// Leaving AUTOMATED invalidates any scheduled re-engagement; doing it in
	// the same transaction is what makes set-mode all-or-nothing.
	if target == store.ModeHuman {
		if _, err := tx.ExecContext(ctx, s.db.rebind(`
			UPDATE followups
			SET status = $1, cancelled_at = $2
			WHERE conversation_id = $3 AND status = $4`),
			string(store.FollowupCancelled), now, convID.String(), string(store.FollowupPending)); err != nil {
			return "", fmt.Errorf("cancel followups: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit mode transition: %w", err)
	}
	return target, nil
}

func (s *modeStore) Changes(ctx context.Context, convID uuid.UUID, limit int) ([]*store.ModeChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.query(ctx, `
		SELECT id, conversation_id, from_mode, to_mode, actor, reason, created_at
		FROM mode_changes
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, convID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list mode changes: %w", err)
	}
	defer rows.Close()

	var out []*store.ModeChange
	for rows.Next() {
		var (
			mc           store.ModeChange
			idStr, cvStr string
			from, to     string
		)
		if err := rows.Scan(&idStr, &cvStr, &from, &to, &mc.Actor, &mc.Reason, &mc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mode change: %w", err)
		}
		mc.ID = uuid.MustParse(idStr)
		mc.ConversationID = uuid.MustParse(cvStr)
		mc.FromMode = store.Mode(from)
		mc.ToMode = store.Mode(to)
		out = append(out, &mc)
	}
	return out, rows.Err()
}
