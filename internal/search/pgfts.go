package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Search ranks listed courses against plainto_tsquery over courses.fts, with
// ts_headline for the description snippet.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	where := "c.is_public AND c.is_published AND c.fts @@ " + tsQuery
	if q.LanguageCode != "" {
		where += " AND c.language_code = $2"
		args = append(args, q.LanguageCode)
	}

	var total int
	countSQL := "SELECT count(*) FROM courses c WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT c.id, c.title,
			ts_headline('simple', coalesce(c.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			c.language_code
		FROM courses c
		WHERE %s
		ORDER BY ts_rank(c.fts, %s) DESC, c.id
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limitOrDefault(q.Limit), offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.LanguageCode); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
