package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/repository"
)

const createSeasonTables = `
CREATE TABLE IF NOT EXISTS tv_seasons (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL,
	season_number INTEGER NOT NULL,
	total_episodes INTEGER NULL,
	status TEXT NOT NULL,
	air_date DATETIME NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(request_id, season_number),
	FOREIGN KEY(request_id) REFERENCES requests(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS tv_episodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	season_id INTEGER NOT NULL,
	episode_number INTEGER NOT NULL,
	status TEXT NOT NULL,
	air_date DATETIME NULL,
	title TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(season_id, episode_number),
	FOREIGN KEY(season_id) REFERENCES tv_seasons(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_tv_seasons_request_id ON tv_seasons(request_id);
CREATE INDEX IF NOT EXISTS idx_tv_episodes_season_id ON tv_episodes(season_id);
`

type SeasonRepository struct {
	db *sql.DB
}

func NewSeasonRepository(db *sql.DB) repository.SeasonRepository {
	return &SeasonRepository{db: db}
}

func (r *SeasonRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createSeasonTables); err != nil {
		return fmt.Errorf("create season tables: %w", err)
	}
	return nil
}

// UpsertSeason inserts the season or refreshes its catalog fields. The
// derived status of an existing row is left untouched.
func (r *SeasonRepository) UpsertSeason(ctx context.Context, season *domain.TvShowSeason) error {
	now := time.Now().UTC()
	if season.Status == "" {
		season.Status = domain.StatusPending
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO tv_seasons (request_id, season_number, total_episodes, status, air_date, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(request_id, season_number) DO UPDATE SET
	total_episodes=excluded.total_episodes,
	air_date=excluded.air_date,
	updated_at=excluded.updated_at
RETURNING id, status, created_at`,
		season.RequestID,
		season.SeasonNumber,
		nullInt(season.TotalEpisodes),
		string(season.Status),
		nullTime(season.AirDate),
		now,
		now,
	)

	var (
		status    string
		createdAt time.Time
	)
	if err := row.Scan(&season.ID, &status, &createdAt); err != nil {
		return fmt.Errorf("upsert season %d: %w", season.SeasonNumber, err)
	}
	season.Status = domain.RequestStatus(status)
	season.CreatedAt = createdAt.Local()
	season.UpdatedAt = now.Local()
	return nil
}

func (r *SeasonRepository) UpsertEpisode(ctx context.Context, episode *domain.TvShowEpisode) error {
	now := time.Now().UTC()
	if episode.Status == "" {
		episode.Status = domain.StatusPending
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO tv_episodes (season_id, episode_number, status, air_date, title, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(season_id, episode_number) DO UPDATE SET
	air_date=excluded.air_date,
	title=excluded.title,
	updated_at=excluded.updated_at
RETURNING id, status, created_at`,
		episode.SeasonID,
		episode.EpisodeNumber,
		string(episode.Status),
		nullTime(episode.AirDate),
		episode.Title,
		now,
		now,
	)

	var (
		status    string
		createdAt time.Time
	)
	if err := row.Scan(&episode.ID, &status, &createdAt); err != nil {
		return fmt.Errorf("upsert episode %d: %w", episode.EpisodeNumber, err)
	}
	episode.Status = domain.RequestStatus(status)
	episode.CreatedAt = createdAt.Local()
	episode.UpdatedAt = now.Local()
	return nil
}

// ListByRequest returns seasons ordered by number, each with its episodes ordered by number.
func (r *SeasonRepository) ListByRequest(ctx context.Context, requestID int64) ([]domain.TvShowSeason, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, request_id, season_number, total_episodes, status, air_date, created_at, updated_at
FROM tv_seasons
WHERE request_id=?
ORDER BY season_number ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query seasons: %w", err)
	}
	defer rows.Close()

	var (
		seasons []domain.TvShowSeason
		index   = map[int64]int{}
	)
	for rows.Next() {
		var (
			season        domain.TvShowSeason
			totalEpisodes sql.NullInt64
			status        string
			airDate       sql.NullTime
			createdAt     time.Time
			updatedAt     time.Time
		)
		if err := rows.Scan(&season.ID, &season.RequestID, &season.SeasonNumber, &totalEpisodes, &status, &airDate, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan season: %w", err)
		}
		season.TotalEpisodes = intPtr(totalEpisodes)
		season.Status = domain.RequestStatus(status)
		season.AirDate = timePtr(airDate)
		season.CreatedAt = createdAt.Local()
		season.UpdatedAt = updatedAt.Local()
		index[season.ID] = len(seasons)
		seasons = append(seasons, season)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seasons: %w", err)
	}
	if len(seasons) == 0 {
		return seasons, nil
	}

	epRows, err := r.db.QueryContext(ctx, `
SELECT e.id, e.season_id, e.episode_number, e.status, e.air_date, e.title, e.created_at, e.updated_at
FROM tv_episodes e
JOIN tv_seasons s ON s.id = e.season_id
WHERE s.request_id=?
ORDER BY s.season_number ASC, e.episode_number ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer epRows.Close()

	for epRows.Next() {
		var (
			episode   domain.TvShowEpisode
			status    string
			airDate   sql.NullTime
			createdAt time.Time
			updatedAt time.Time
		)
		if err := epRows.Scan(&episode.ID, &episode.SeasonID, &episode.EpisodeNumber, &status, &airDate, &episode.Title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		episode.Status = domain.RequestStatus(status)
		episode.AirDate = timePtr(airDate)
		episode.CreatedAt = createdAt.Local()
		episode.UpdatedAt = updatedAt.Local()
		if i, ok := index[episode.SeasonID]; ok {
			seasons[i].Episodes = append(seasons[i].Episodes, episode)
		}
	}
	return seasons, epRows.Err()
}

func (r *SeasonRepository) UpdateSeasonStatus(ctx context.Context, seasonID int64, status domain.RequestStatus) error {
	return r.updateStatus(ctx, "tv_seasons", seasonID, status)
}

func (r *SeasonRepository) UpdateEpisodeStatus(ctx context.Context, episodeID int64, status domain.RequestStatus) error {
	return r.updateStatus(ctx, "tv_episodes", episodeID, status)
}

func (r *SeasonRepository) updateStatus(ctx context.Context, table string, id int64, status domain.RequestStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE `+table+` SET status=?, updated_at=? WHERE id=?`,
		string(status),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update %s status: %w", table, err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", table, err)
	}
	if aff == 0 {
		return fmt.Errorf("%s %d: %w", table, id, repository.ErrNotFound)
	}
	return nil
}
