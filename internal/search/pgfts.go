package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"notes/api/internal/content"
)

// PgFTS searches pages with PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks the owner's pages with plainto_tsquery and ts_rank, using ts_headline for
// snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	const where = `owner_id = $1 AND fts @@ plainto_tsquery('english', $2)`
	args := []any{q.OwnerID, q.Text}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM pages WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, title,
			ts_headline('english', coalesce(search_text, ''), plainto_tsquery('english', $2),
				'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			coalesce(search_text, '')
		FROM pages
		WHERE %s
		ORDER BY ts_rank(fts, plainto_tsquery('english', $2)) DESC, updated_at DESC
		LIMIT %d OFFSET %d`, where, normalizeLimit(q.Limit), q.Offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var body string
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &body); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.ReadMinutes = content.ReadMinutesForWords(len(strings.Fields(body)))
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns all pages as search records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, owner_id, title, search_text, updated_at FROM pages`)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	defer rows.Close()

	records := make([]PageRecord, 0)
	for rows.Next() {
		var r PageRecord
		var updated sql.NullTime
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Title, &r.Body, &updated); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		r.ReadMinutes = content.ReadMinutesForWords(len(strings.Fields(r.Body)))
		if updated.Valid {
			r.UpdatedAt = updated.Time.Unix()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return records, nil
}
