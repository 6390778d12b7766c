package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const pageColumns = `id, owner_id, title, content, search_text, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (Page, error) {
	var item Page
	err := row.Scan(&item.ID, &item.OwnerID, &item.Title, &item.Content, &item.SearchText, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) InsertPage(ctx context.Context, item Page) (Page, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO pages (id, owner_id, title, content, search_text)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+pageColumns,
		item.ID, item.OwnerID, item.Title, item.Content, item.SearchText)
	created, err := scanPage(row)
	if err != nil {
		return Page{}, fmt.Errorf("insert page: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetPage(ctx context.Context, ownerID, pageID string) (Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id=$1 AND owner_id=$2`, pageID, ownerID)
	item, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, ErrNotFound
	}
	if err != nil {
		return Page{}, fmt.Errorf("get page: %w", err)
	}
	return item, nil
}

// UpdatePage applies a partial update and bumps updated_at.
func (s *PostgresStore) UpdatePage(ctx context.Context, ownerID, pageID string, fields PageFields) (Page, error) {
	if fields.empty() {
		return s.GetPage(ctx, ownerID, pageID)
	}
	sets, args := updateAssignments(fields)
	args = append(args, pageID, ownerID)
	query := fmt.Sprintf(`
		UPDATE pages SET %s, updated_at=NOW()
		WHERE id=$%d AND owner_id=$%d
		RETURNING %s`, strings.Join(sets, ", "), len(args)-1, len(args), pageColumns)

	item, err := scanPage(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, ErrNotFound
	}
	if err != nil {
		return Page{}, fmt.Errorf("update page: %w", err)
	}
	return item, nil
}

func updateAssignments(fields PageFields) ([]string, []any) {
	var sets []string
	var args []any
	add := func(column string, value string) {
		args = append(args, value)
		sets = append(sets, column+"=$"+strconv.Itoa(len(args)))
	}
	if fields.Title != nil {
		add("title", *fields.Title)
	}
	if fields.Content != nil {
		add("content", *fields.Content)
	}
	if fields.SearchText != nil {
		add("search_text", *fields.SearchText)
	}
	return sets, args
}

func (s *PostgresStore) DeletePage(ctx context.Context, ownerID, pageID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id=$1 AND owner_id=$2`, pageID, ownerID)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPages returns the owner's pages, most recently updated first.
func (s *PostgresStore) ListPages(ctx context.Context, ownerID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE owner_id=$1
		ORDER BY updated_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	items := make([]Page, 0)
	for rows.Next() {
		item, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return items, nil
}

// ListAllPages returns every page; used to rebuild the search index.
func (s *PostgresStore) ListAllPages(ctx context.Context) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list all pages: %w", err)
	}
	defer rows.Close()

	items := make([]Page, 0)
	for rows.Next() {
		item, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return items, nil
}
