// internal/adapter/storage/keyword_store.go

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trendwatch/internal/domain/content"
)

// KeywordStore provides read access to keyword rows. Keywords are
// created and edited by the keyword-management collaborator; this
// service never writes them.
type KeywordStore struct {
	db *pgxpool.Pool
}

// NewKeywordStore creates a new keyword store
func NewKeywordStore(db *pgxpool.Pool) *KeywordStore {
	return &KeywordStore{
		db: db,
	}
}

// GetKeyword returns a keyword by ID, or nil if it does not exist
func (s *KeywordStore) GetKeyword(ctx context.Context, id string) (*content.Keyword, error) {
	query := `
		SELECT id, owner_id, text, active
		FROM keywords
		WHERE id = $1
	`

	var kw content.Keyword
	err := s.db.QueryRow(ctx, query, id).Scan(&kw.ID, &kw.OwnerID, &kw.Text, &kw.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying keyword: %w", err)
	}

	return &kw, nil
}

// GetActiveKeywords returns all keywords flagged active
func (s *KeywordStore) GetActiveKeywords(ctx context.Context) ([]content.Keyword, error) {
	query := `
		SELECT id, owner_id, text, active
		FROM keywords
		WHERE active = true
		ORDER BY text ASC
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying keywords: %w", err)
	}
	defer rows.Close()

	var keywords []content.Keyword
	for rows.Next() {
		var kw content.Keyword
		if err := rows.Scan(&kw.ID, &kw.OwnerID, &kw.Text, &kw.Active); err != nil {
			return nil, fmt.Errorf("error scanning keyword: %w", err)
		}
		keywords = append(keywords, kw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keywords: %w", err)
	}

	return keywords, nil
}
