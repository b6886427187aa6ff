package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/repository"
)

var (
	// ErrInvalidRequest wraps every validation failure on request input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRequestActive is returned when deleting a request that can still change.
	ErrRequestActive = errors.New("request is still active")
)

// Defaults are the policy values applied to new requests when the caller
// leaves them unset.
type Defaults struct {
	IntervalMinutes    int
	MaxAttempts        int
	ExpiryDays         int
	MinSeeders         int
	MaxSizeBytes       int64
	PreferredQualities []string
	PreferredFormats   []string
	Blacklist          []string
	TrustedIndexers    []string
}

func (d Defaults) lifetime() time.Duration {
	return time.Duration(d.ExpiryDays) * 24 * time.Hour
}

// Lifecycle performs the state changes a user can ask for.
type Lifecycle interface {
	Cancel(ctx context.Context, id int64) (*domain.Request, error)
	Reactivate(ctx context.Context, id int64, lifetime time.Duration) (*domain.Request, error)
	SelectCandidate(ctx context.Context, requestID, resultID int64) (*domain.Request, error)
}

// CreateRequestInput carries what a user asks for. Zero policy fields fall
// back to Defaults.
type CreateRequestInput struct {
	Kind               domain.ContentKind
	Title              string
	Year               int
	TMDBID             string
	IMDBID             string
	TVDBID             string
	Priority           int
	Seasons            []int
	IntervalMinutes    int
	MaxAttempts        int
	MinSeeders         int
	PreferredQualities []string
	PreferredFormats   []string
}

// RequestProgress is the download view of a request.
type RequestProgress struct {
	RequestID    int64
	Status       domain.RequestStatus
	StatusReason string
	Progress     domain.DownloadProgress
	Download     *domain.DownloadJob
}

// RequestService coordinates request level operations for API callers.
// Every operation is scoped to the owning user.
type RequestService interface {
	Create(ctx context.Context, userID int64, in CreateRequestInput) (*domain.Request, error)
	Get(ctx context.Context, userID, id int64) (*domain.Request, error)
	List(ctx context.Context, userID int64, filter repository.RequestFilter) ([]domain.Request, error)
	Cancel(ctx context.Context, userID, id int64) (*domain.Request, error)
	Reactivate(ctx context.Context, userID, id int64) (*domain.Request, error)
	SelectCandidate(ctx context.Context, userID, requestID, resultID int64) (*domain.Request, error)
	Results(ctx context.Context, userID, id int64) ([]domain.TorrentSearchResult, error)
	Progress(ctx context.Context, userID, id int64) (*RequestProgress, error)
	Delete(ctx context.Context, userID, id int64) (*domain.Request, error)
}

type requestService struct {
	requests  repository.RequestRepository
	seasons   repository.SeasonRepository
	results   repository.SearchResultRepository
	lifecycle Lifecycle
	defaults  Defaults
	now       func() time.Time
}

func NewRequestService(
	requests repository.RequestRepository,
	seasons repository.SeasonRepository,
	results repository.SearchResultRepository,
	lifecycle Lifecycle,
	defaults Defaults,
) RequestService {
	return &requestService{
		requests:  requests,
		seasons:   seasons,
		results:   results,
		lifecycle: lifecycle,
		defaults:  defaults,
		now:       time.Now,
	}
}

func (s *requestService) Create(ctx context.Context, userID int64, in CreateRequestInput) (*domain.Request, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.TMDBID = strings.TrimSpace(in.TMDBID)

	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, in.Kind)
	}
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if in.Year < 0 {
		return nil, fmt.Errorf("%w: year must not be negative", ErrInvalidRequest)
	}
	if in.Kind == domain.KindTVShow && in.TMDBID == "" {
		return nil, fmt.Errorf("%w: tmdb id is required for tv shows", ErrInvalidRequest)
	}
	for _, n := range in.Seasons {
		if n <= 0 {
			return nil, fmt.Errorf("%w: season numbers start at 1", ErrInvalidRequest)
		}
	}
	if in.Kind != domain.KindTVShow && len(in.Seasons) > 0 {
		return nil, fmt.Errorf("%w: seasons only apply to tv shows", ErrInvalidRequest)
	}

	now := s.now().UTC()
	req := &domain.Request{
		UserID:   userID,
		Kind:     in.Kind,
		Title:    in.Title,
		Year:     in.Year,
		TMDBID:   in.TMDBID,
		IMDBID:   strings.TrimSpace(in.IMDBID),
		TVDBID:   strings.TrimSpace(in.TVDBID),
		Status:   domain.StatusPending,
		Priority: in.Priority,
		Seasons:  in.Seasons,
		Search: domain.SearchPolicy{
			IntervalMinutes: orDefault(in.IntervalMinutes, s.defaults.IntervalMinutes),
			MaxAttempts:     orDefault(in.MaxAttempts, s.defaults.MaxAttempts),
			NextSearchAt:    &now,
			ExpiresAt:       now.Add(s.defaults.lifetime()),
		},
		Selection: domain.SelectionPolicy{
			PreferredQualities: orDefaultList(in.PreferredQualities, s.defaults.PreferredQualities),
			PreferredFormats:   orDefaultList(in.PreferredFormats, s.defaults.PreferredFormats),
			MinSeeders:         orDefault(in.MinSeeders, s.defaults.MinSeeders),
			MaxSizeBytes:       s.defaults.MaxSizeBytes,
			BlacklistWords:     s.defaults.Blacklist,
			TrustedIndexers:    s.defaults.TrustedIndexers,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Search.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w: max attempts must be positive", ErrInvalidRequest)
	}

	if _, err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *requestService) Get(ctx context.Context, userID, id int64) (*domain.Request, error) {
	req, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Kind == domain.KindTVShow {
		seasons, err := s.seasons.ListByRequest(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list seasons: %w", err)
		}
		req.TvSeasons = seasons
	}
	return req, nil
}

func (s *requestService) List(ctx context.Context, userID int64, filter repository.RequestFilter) ([]domain.Request, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
		}
	}
	for _, kind := range filter.Kinds {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)
		}
	}
	filter.UserID = userID
	return s.requests.List(ctx, filter)
}

func (s *requestService) Cancel(ctx context.Context, userID, id int64) (*domain.Request, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.lifecycle.Cancel(ctx, id)
}

func (s *requestService) Reactivate(ctx context.Context, userID, id int64) (*domain.Request, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.lifecycle.Reactivate(ctx, id, s.defaults.lifetime())
}

func (s *requestService) SelectCandidate(ctx context.Context, userID, requestID, resultID int64) (*domain.Request, error) {
	if _, err := s.owned(ctx, userID, requestID); err != nil {
		return nil, err
	}
	return s.lifecycle.SelectCandidate(ctx, requestID, resultID)
}

func (s *requestService) Results(ctx context.Context, userID, id int64) ([]domain.TorrentSearchResult, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.results.ListByRequest(ctx, id)
}

func (s *requestService) Progress(ctx context.Context, userID, id int64) (*RequestProgress, error) {
	req, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return &RequestProgress{
		RequestID:    req.ID,
		Status:       req.Status,
		StatusReason: req.StatusReason,
		Progress:     req.Progress,
		Download:     req.Download,
	}, nil
}

// Delete removes a request that can no longer change. Seasons, episodes and
// search results go with it.
func (s *requestService) Delete(ctx context.Context, userID, id int64) (*domain.Request, error) {
	req, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !req.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrRequestActive, req.Status)
	}
	if err := s.requests.Delete(ctx, id); err != nil {
		return nil, err
	}
	return req, nil
}

// owned loads a request and hides requests of other users as not found.
func (s *requestService) owned(ctx context.Context, userID, id int64) (*domain.Request, error) {
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, fmt.Errorf("request %d: %w", id, repository.ErrNotFound)
	}
	return req, nil
}

func orDefault[T int | int64](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultList(v, def []string) []string {
	if len(v) > 0 {
		return v
	}
	return def
}
