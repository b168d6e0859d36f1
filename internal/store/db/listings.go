package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

type listingStore struct {
	db *DB
}

func (s *listingStore) Put(ctx context.Context, l *store.Listing) error {
	if l.ID == uuid.Nil {
		l.ID = store.NewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.exec(ctx, `
		INSERT INTO listings
			(id, agent_id, title, location, property_type, bedrooms, price_sgd, description, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID.String(), l.AgentID.String(), l.Title, l.Location, l.PropertyType,
		l.Bedrooms, l.PriceSGD, l.Description, l.Active, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("put listing: %w", err)
	}
	return nil
}

// Search filters by exact attributes only. Placeholders are numbered in order
// of first use so the SQLite rebind stays positional.
func (s *listingStore) Search(ctx context.Context, agentID uuid.UUID, q store.ListingQuery) ([]*store.Listing, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 3
	}

	var (
		conds = []string{"agent_id = $1", "active"}
		args  = []any{agentID.String()}
		n     = 1
	)
	if q.Location != "" {
		n++
		conds = append(conds, fmt.Sprintf("LOWER(location) = LOWER($%d)", n))
		args = append(args, q.Location)
	}
	if q.PropertyType != "" {
		n++
		conds = append(conds, fmt.Sprintf("LOWER(property_type) = LOWER($%d)", n))
		args = append(args, q.PropertyType)
	}
	if q.Bedrooms > 0 {
		n++
		conds = append(conds, fmt.Sprintf("bedrooms = $%d", n))
		args = append(args, q.Bedrooms)
	}
	n++
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, agent_id, title, location, property_type, bedrooms, price_sgd, description, active, created_at
		FROM listings
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, strings.Join(conds, " AND "), n)

	rows, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}
	defer rows.Close()

	var out []*store.Listing
	for rows.Next() {
		var (
			l            store.Listing
			idStr, agStr string
			desc         sql.NullString
		)
		if err := rows.Scan(&idStr, &agStr, &l.Title, &l.Location, &l.PropertyType,
			&l.Bedrooms, &l.PriceSGD, &desc, &l.Active, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		l.ID = uuid.MustParse(idStr)
		l.AgentID = uuid.MustParse(agStr)
		l.Description = desc.String
		out = append(out, &l)
	}
	return out, rows.Err()
}
