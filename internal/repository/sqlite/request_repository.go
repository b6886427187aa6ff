package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/repository"
)

const createRequestsTable = `
CREATE TABLE IF NOT EXISTS requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL DEFAULT 0,
	kind TEXT NOT NULL,
	title TEXT NOT NULL,
	year INTEGER NOT NULL DEFAULT 0,
	tmdb_id TEXT NOT NULL DEFAULT '',
	imdb_id TEXT NOT NULL DEFAULT '',
	tvdb_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	search_interval_minutes INTEGER NOT NULL DEFAULT 60,
	max_search_attempts INTEGER NOT NULL DEFAULT 10,
	search_attempts INTEGER NOT NULL DEFAULT 0,
	last_search_at DATETIME NULL,
	next_search_at DATETIME NULL,
	expires_at DATETIME NOT NULL,
	selection_json TEXT NOT NULL DEFAULT '',
	is_ongoing INTEGER NOT NULL DEFAULT 0,
	seasons_json TEXT NOT NULL DEFAULT '',
	total_seasons INTEGER NULL,
	total_episodes INTEGER NULL,
	found_json TEXT NOT NULL DEFAULT '',
	download_json TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME NULL,
	cancelled_at DATETIME NULL,
	expired_at DATETIME NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
`

const requestColumns = `id, user_id, kind, title, year, tmdb_id, imdb_id, tvdb_id, status, priority,
search_interval_minutes, max_search_attempts, search_attempts, last_search_at, next_search_at, expires_at,
selection_json, is_ongoing, seasons_json, total_seasons, total_episodes, found_json, download_json,
progress_percent, progress_total, progress_completed, progress_speed, progress_eta, progress_updated_at,
failure_reason, status_reason, created_at, updated_at, completed_at, cancelled_at, expired_at`

type RequestRepository struct {
	db *sql.DB
}

func NewRequestRepository(db *sql.DB) repository.RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRequestsTable); err != nil {
		return fmt.Errorf("create requests table: %w", err)
	}
	return r.ensureRequestColumns(ctx)
}

// ensureRequestColumns adds columns introduced after the first schema.
func (r *RequestRepository) ensureRequestColumns(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `PRAGMA table_info(requests)`)
	if err != nil {
		return fmt.Errorf("describe requests table: %w", err)
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan pragma table info: %w", err)
		}
		columns[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate pragma table info: %w", err)
	}

	added := []struct{ name, statement string }{
		{"status_reason", `ALTER TABLE requests ADD COLUMN status_reason TEXT NOT NULL DEFAULT ''`},
		{"progress_percent", `ALTER TABLE requests ADD COLUMN progress_percent INTEGER NOT NULL DEFAULT 0`},
		{"progress_total", `ALTER TABLE requests ADD COLUMN progress_total INTEGER NOT NULL DEFAULT 0`},
		{"progress_completed", `ALTER TABLE requests ADD COLUMN progress_completed INTEGER NOT NULL DEFAULT 0`},
		{"progress_speed", `ALTER TABLE requests ADD COLUMN progress_speed INTEGER NOT NULL DEFAULT 0`},
		{"progress_eta", `ALTER TABLE requests ADD COLUMN progress_eta TEXT NOT NULL DEFAULT ''`},
		{"progress_updated_at", `ALTER TABLE requests ADD COLUMN progress_updated_at DATETIME NULL`},
	}
	for _, col := range added {
		if _, exists := columns[col.name]; exists {
			continue
		}
		if _, err := r.db.ExecContext(ctx, col.statement); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

type requestRow struct {
	selection string
	seasons   string
	found     string
	download  string
}

func encodeRequest(req *domain.Request) (requestRow, error) {
	var (
		row requestRow
		err error
	)
	if row.selection, err = encodeJSON(req.Selection); err != nil {
		return row, fmt.Errorf("encode selection policy: %w", err)
	}
	if len(req.Seasons) > 0 {
		if row.seasons, err = encodeJSON(req.Seasons); err != nil {
			return row, fmt.Errorf("encode seasons: %w", err)
		}
	}
	if row.found, err = encodeJSON(req.Found); err != nil {
		return row, fmt.Errorf("encode found candidate: %w", err)
	}
	if row.download, err = encodeJSON(req.Download); err != nil {
		return row, fmt.Errorf("encode download job: %w", err)
	}
	return row, nil
}

func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) (int64, error) {
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	row, err := encodeRequest(req)
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO requests (user_id, kind, title, year, tmdb_id, imdb_id, tvdb_id, status, priority,
	search_interval_minutes, max_search_attempts, search_attempts, last_search_at, next_search_at, expires_at,
	selection_json, is_ongoing, seasons_json, total_seasons, total_episodes, found_json, download_json,
	failure_reason, status_reason, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.UserID,
		string(req.Kind),
		req.Title,
		req.Year,
		req.TMDBID,
		req.IMDBID,
		req.TVDBID,
		string(req.Status),
		req.Priority,
		req.Search.IntervalMinutes,
		req.Search.MaxAttempts,
		req.Search.Attempts,
		nullTime(req.Search.LastSearchAt),
		nullTime(req.Search.NextSearchAt),
		req.Search.ExpiresAt.UTC(),
		row.selection,
		req.IsOngoing,
		row.seasons,
		nullInt(req.TotalSeasons),
		nullInt(req.TotalEpisodes),
		row.found,
		row.download,
		req.FailureReason,
		req.StatusReason,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert request: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	req.ID = id
	return id, nil
}

func (r *RequestRepository) Update(ctx context.Context, req *domain.Request) error {
	req.UpdatedAt = time.Now().UTC()

	row, err := encodeRequest(req)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE requests
SET user_id=?, kind=?, title=?, year=?, tmdb_id=?, imdb_id=?, tvdb_id=?, status=?, priority=?,
	search_interval_minutes=?, max_search_attempts=?, search_attempts=?, last_search_at=?, next_search_at=?, expires_at=?,
	selection_json=?, is_ongoing=?, seasons_json=?, total_seasons=?, total_episodes=?, found_json=?, download_json=?,
	progress_percent=?, progress_total=?, progress_completed=?, progress_speed=?, progress_eta=?, progress_updated_at=?,
	failure_reason=?, status_reason=?, updated_at=?, completed_at=?, cancelled_at=?, expired_at=?
WHERE id=?`,
		req.UserID,
		string(req.Kind),
		req.Title,
		req.Year,
		req.TMDBID,
		req.IMDBID,
		req.TVDBID,
		string(req.Status),
		req.Priority,
		req.Search.IntervalMinutes,
		req.Search.MaxAttempts,
		req.Search.Attempts,
		nullTime(req.Search.LastSearchAt),
		nullTime(req.Search.NextSearchAt),
		req.Search.ExpiresAt.UTC(),
		row.selection,
		req.IsOngoing,
		row.seasons,
		nullInt(req.TotalSeasons),
		nullInt(req.TotalEpisodes),
		row.found,
		row.download,
		req.Progress.Percent,
		req.Progress.TotalBytes,
		req.Progress.CompletedBytes,
		req.Progress.Speed,
		req.Progress.ETA,
		nullTime(req.Progress.UpdatedAt),
		req.FailureReason,
		req.StatusReason,
		req.UpdatedAt,
		nullTime(req.CompletedAt),
		nullTime(req.CancelledAt),
		nullTime(req.ExpiredAt),
		req.ID,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("request update rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("request %d: %w", req.ID, repository.ErrNotFound)
	}
	return nil
}

func (r *RequestRepository) Get(ctx context.Context, id int64) (*domain.Request, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	return scanRequest(row)
}

func (r *RequestRepository) List(ctx context.Context, filter repository.RequestFilter) ([]domain.Request, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		where = append(where, fmt.Sprintf("kind IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.UserID > 0 {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority DESC, created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var requests []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

func (r *RequestRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM requests WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("request delete rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("request %d: %w", id, repository.ErrNotFound)
	}
	return nil
}

func scanRequest(scanner interface {
	Scan(dest ...any) error
}) (*domain.Request, error) {
	var (
		req               domain.Request
		kind, status      string
		lastSearchAt      sql.NullTime
		nextSearchAt      sql.NullTime
		expiresAt         time.Time
		selection         string
		seasons           string
		totalSeasons      sql.NullInt64
		totalEpisodes     sql.NullInt64
		found, download   string
		progressUpdatedAt sql.NullTime
		createdAt         time.Time
		updatedAt         time.Time
		completedAt       sql.NullTime
		cancelledAt       sql.NullTime
		expiredAt         sql.NullTime
	)

	if err := scanner.Scan(
		&req.ID,
		&req.UserID,
		&kind,
		&req.Title,
		&req.Year,
		&req.TMDBID,
		&req.IMDBID,
		&req.TVDBID,
		&status,
		&req.Priority,
		&req.Search.IntervalMinutes,
		&req.Search.MaxAttempts,
		&req.Search.Attempts,
		&lastSearchAt,
		&nextSearchAt,
		&expiresAt,
		&selection,
		&req.IsOngoing,
		&seasons,
		&totalSeasons,
		&totalEpisodes,
		&found,
		&download,
		&req.Progress.Percent,
		&req.Progress.TotalBytes,
		&req.Progress.CompletedBytes,
		&req.Progress.Speed,
		&req.Progress.ETA,
		&progressUpdatedAt,
		&req.FailureReason,
		&req.StatusReason,
		&createdAt,
		&updatedAt,
		&completedAt,
		&cancelledAt,
		&expiredAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("request: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}

	req.Kind = domain.ContentKind(kind)
	req.Status = domain.RequestStatus(status)
	req.Search.LastSearchAt = timePtr(lastSearchAt)
	req.Search.NextSearchAt = timePtr(nextSearchAt)
	req.Search.ExpiresAt = expiresAt.Local()
	req.TotalSeasons = intPtr(totalSeasons)
	req.TotalEpisodes = intPtr(totalEpisodes)
	req.Progress.UpdatedAt = timePtr(progressUpdatedAt)
	req.CreatedAt = createdAt.Local()
	req.UpdatedAt = updatedAt.Local()
	req.CompletedAt = timePtr(completedAt)
	req.CancelledAt = timePtr(cancelledAt)
	req.ExpiredAt = timePtr(expiredAt)

	if err := decodeJSON(selection, &req.Selection); err != nil {
		return nil, fmt.Errorf("decode selection policy: %w", err)
	}
	if err := decodeJSON(seasons, &req.Seasons); err != nil {
		return nil, fmt.Errorf("decode seasons: %w", err)
	}
	if found != "" {
		req.Found = &domain.FoundCandidate{}
		if err := decodeJSON(found, req.Found); err != nil {
			return nil, fmt.Errorf("decode found candidate: %w", err)
		}
	}
	if download != "" {
		req.Download = &domain.DownloadJob{}
		if err := decodeJSON(download, req.Download); err != nil {
			return nil, fmt.Errorf("decode download job: %w", err)
		}
	}

	return &req, nil
}
