package repository

import (
	"context"
	"errors"

	"media-acquirer/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique key is already taken.
	ErrAlreadyExists = errors.New("already exists")
)

// RequestFilter narrows request listings. Zero values match everything.
type RequestFilter struct {
	Statuses []domain.RequestStatus
	Kinds    []domain.ContentKind
	UserID   int64
	Limit    int
}

// RequestRepository exposes persistence operations for Request aggregates.
// Listings are ordered by priority (highest first) then most recent.
type RequestRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, req *domain.Request) (int64, error)
	Update(ctx context.Context, req *domain.Request) error
	Get(ctx context.Context, id int64) (*domain.Request, error)
	List(ctx context.Context, filter RequestFilter) ([]domain.Request, error)
	Delete(ctx context.Context, id int64) error
}

// SeasonRepository manages the seasons and episodes owned by TV requests.
type SeasonRepository interface {
	Init(ctx context.Context) error
	UpsertSeason(ctx context.Context, season *domain.TvShowSeason) error
	UpsertEpisode(ctx context.Context, episode *domain.TvShowEpisode) error
	ListByRequest(ctx context.Context, requestID int64) ([]domain.TvShowSeason, error)
	UpdateSeasonStatus(ctx context.Context, seasonID int64, status domain.RequestStatus) error
	UpdateEpisodeStatus(ctx context.Context, episodeID int64, status domain.RequestStatus) error
}

// SearchResultRepository stores candidate snapshots considered for a request.
type SearchResultRepository interface {
	Init(ctx context.Context) error
	ReplaceForRequest(ctx context.Context, requestID int64, results []domain.TorrentSearchResult) error
	ListByRequest(ctx context.Context, requestID int64) ([]domain.TorrentSearchResult, error)
	Get(ctx context.Context, id int64) (*domain.TorrentSearchResult, error)
	// MarkSelected clears any prior selection for the request before flagging id.
	MarkSelected(ctx context.Context, requestID, id int64) error
	GetSelected(ctx context.Context, requestID int64) (*domain.TorrentSearchResult, error)
}
