package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/repository"
)

const createSearchResultsTable = `
CREATE TABLE IF NOT EXISTS search_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	link TEXT NOT NULL DEFAULT '',
	magnet TEXT NOT NULL DEFAULT '',
	size TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	seeders INTEGER NOT NULL DEFAULT 0,
	leechers INTEGER NOT NULL DEFAULT 0,
	indexer TEXT NOT NULL DEFAULT '',
	quality TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT '',
	score REAL NOT NULL DEFAULT 0,
	selected INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	FOREIGN KEY(request_id) REFERENCES requests(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_search_results_request_id ON search_results(request_id);
`

const searchResultColumns = `id, request_id, title, link, magnet, size, size_bytes, seeders, leechers, indexer, quality, format, score, selected, created_at`

type SearchResultRepository struct {
	db *sql.DB
}

func NewSearchResultRepository(db *sql.DB) repository.SearchResultRepository {
	return &SearchResultRepository{db: db}
}

func (r *SearchResultRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createSearchResultsTable); err != nil {
		return fmt.Errorf("create search_results table: %w", err)
	}
	return nil
}

// ReplaceForRequest swaps the stored snapshot for the request with results.
// IDs of the inserted rows are written back into the slice.
func (r *SearchResultRepository) ReplaceForRequest(ctx context.Context, requestID int64, results []domain.TorrentSearchResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM search_results WHERE request_id=?`, requestID); err != nil {
		return fmt.Errorf("delete search results: %w", err)
	}

	selected := 0
	now := time.Now().UTC()
	for i := range results {
		res := &results[i]
		res.RequestID = requestID
		res.CreatedAt = now
		if res.Selected {
			selected++
			if selected > 1 {
				return fmt.Errorf("request %d: more than one selected search result", requestID)
			}
		}
		out, err := tx.ExecContext(ctx, `
INSERT INTO search_results (request_id, title, link, magnet, size, size_bytes, seeders, leechers, indexer, quality, format, score, selected, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			requestID,
			res.Title,
			res.Link,
			res.Magnet,
			res.Size,
			res.SizeBytes,
			res.Seeders,
			res.Leechers,
			res.Indexer,
			res.Quality,
			res.Format,
			res.Score,
			res.Selected,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert search result: %w", err)
		}
		if res.ID, err = out.LastInsertId(); err != nil {
			return fmt.Errorf("search result last insert id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *SearchResultRepository) ListByRequest(ctx context.Context, requestID int64) ([]domain.TorrentSearchResult, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+searchResultColumns+`
FROM search_results
WHERE request_id=?
ORDER BY score DESC, id ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query search results: %w", err)
	}
	defer rows.Close()

	var results []domain.TorrentSearchResult
	for rows.Next() {
		res, err := scanSearchResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, rows.Err()
}

func (r *SearchResultRepository) Get(ctx context.Context, id int64) (*domain.TorrentSearchResult, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+searchResultColumns+` FROM search_results WHERE id=?`, id)
	return scanSearchResult(row)
}

func (r *SearchResultRepository) MarkSelected(ctx context.Context, requestID, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE search_results SET selected=0 WHERE request_id=?`, requestID); err != nil {
		return fmt.Errorf("clear selection: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE search_results SET selected=1 WHERE request_id=? AND id=?`, requestID, id)
	if err != nil {
		return fmt.Errorf("mark selected: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark selected rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("search result %d for request %d: %w", id, requestID, repository.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit selection: %w", err)
	}
	return nil
}

func (r *SearchResultRepository) GetSelected(ctx context.Context, requestID int64) (*domain.TorrentSearchResult, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+searchResultColumns+`
FROM search_results
WHERE request_id=? AND selected=1
LIMIT 1`, requestID)
	return scanSearchResult(row)
}

func scanSearchResult(scanner interface {
	Scan(dest ...any) error
}) (*domain.TorrentSearchResult, error) {
	var (
		res       domain.TorrentSearchResult
		createdAt time.Time
	)
	if err := scanner.Scan(
		&res.ID,
		&res.RequestID,
		&res.Title,
		&res.Link,
		&res.Magnet,
		&res.Size,
		&res.SizeBytes,
		&res.Seeders,
		&res.Leechers,
		&res.Indexer,
		&res.Quality,
		&res.Format,
		&res.Score,
		&res.Selected,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("search result: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan search result: %w", err)
	}
	res.CreatedAt = createdAt.Local()
	return &res, nil
}
