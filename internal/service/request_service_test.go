package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/repository"
	"media-acquirer/internal/repository/sqlite"
)

type stores struct {
	requests repository.RequestRepository
	seasons  repository.SeasonRepository
	results  repository.SearchResultRepository
	users    repository.UserRepository
}

func openStores(t *testing.T) stores {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := stores{
		requests: sqlite.NewRequestRepository(db),
		seasons:  sqlite.NewSeasonRepository(db),
		results:  sqlite.NewSearchResultRepository(db),
		users:    sqlite.NewUserRepository(db),
	}
	require.NoError(t, sqlite.Migrate(context.Background(), s.users, s.requests, s.seasons, s.results))
	return s
}

type fakeLifecycle struct {
	cancelled   []int64
	reactivated map[int64]time.Duration
	selected    [][2]int64
	err         error
}

func (f *fakeLifecycle) Cancel(_ context.Context, id int64) (*domain.Request, error) {
	f.cancelled = append(f.cancelled, id)
	return &domain.Request{ID: id, Status: domain.StatusCancelled}, f.err
}

func (f *fakeLifecycle) Reactivate(_ context.Context, id int64, lifetime time.Duration) (*domain.Request, error) {
	if f.reactivated == nil {
		f.reactivated = make(map[int64]time.Duration)
	}
	f.reactivated[id] = lifetime
	return &domain.Request{ID: id, Status: domain.StatusPending}, f.err
}

func (f *fakeLifecycle) SelectCandidate(_ context.Context, requestID, resultID int64) (*domain.Request, error) {
	f.selected = append(f.selected, [2]int64{requestID, resultID})
	return &domain.Request{ID: requestID, Status: domain.StatusDownloading}, f.err
}

var testDefaults = Defaults{
	IntervalMinutes:    60,
	MaxAttempts:        5,
	ExpiryDays:         30,
	MinSeeders:         2,
	MaxSizeBytes:       50 << 30,
	PreferredQualities: []string{"1080p", "720p"},
	PreferredFormats:   []string{"x265"},
	Blacklist:          []string{"cam"},
	TrustedIndexers:    []string{"rarbg"},
}

func newRequestService(t *testing.T) (*requestService, stores, *fakeLifecycle) {
	t.Helper()
	s := openStores(t)
	lc := &fakeLifecycle{}
	svc := NewRequestService(s.requests, s.seasons, s.results, lc, testDefaults).(*requestService)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, s, lc
}

func TestCreateAppliesDefaults(t *testing.T) {
	t.Parallel()
	svc, s, _ := newRequestService(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, 7, CreateRequestInput{Kind: domain.KindMovie, Title: "  Dune ", Year: 2021})
	require.NoError(t, err)
	require.NotZero(t, req.ID)

	stored, err := s.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune", stored.Title)
	assert.Equal(t, int64(7), stored.UserID)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, 60, stored.Search.IntervalMinutes)
	assert.Equal(t, 5, stored.Search.MaxAttempts)
	assert.Equal(t, 0, stored.Search.Attempts)
	require.NotNil(t, stored.Search.NextSearchAt)
	assert.True(t, stored.Search.NextSearchAt.Equal(svc.now()))
	assert.True(t, stored.Search.ExpiresAt.Equal(svc.now().Add(30*24*time.Hour)))
	assert.Equal(t, []string{"1080p", "720p"}, stored.Selection.PreferredQualities)
	assert.Equal(t, 2, stored.Selection.MinSeeders)
	assert.Equal(t, []string{"cam"}, stored.Selection.BlacklistWords)
	assert.Equal(t, []string{"rarbg"}, stored.Selection.TrustedIndexers)
}

func TestCreateHonoursOverrides(t *testing.T) {
	t.Parallel()
	svc, _, _ := newRequestService(t)

	req, err := svc.Create(context.Background(), 1, CreateRequestInput{
		Kind:               domain.KindTVShow,
		Title:              "Some Show",
		TMDBID:             "1399",
		Seasons:            []int{1, 2},
		IntervalMinutes:    15,
		MaxAttempts:        2,
		MinSeeders:         10,
		PreferredQualities: []string{"2160p"},
	})
	require.NoError(t, err)
	assert.Equal(t, 15, req.Search.IntervalMinutes)
	assert.Equal(t, 2, req.Search.MaxAttempts)
	assert.Equal(t, 10, req.Selection.MinSeeders)
	assert.Equal(t, []string{"2160p"}, req.Selection.PreferredQualities)
	assert.Equal(t, []string{"x265"}, req.Selection.PreferredFormats)
	assert.Equal(t, []int{1, 2}, req.Seasons)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	svc, _, _ := newRequestService(t)

	cases := map[string]CreateRequestInput{
		"unknown kind":      {Kind: "BOOK", Title: "x"},
		"missing title":     {Kind: domain.KindMovie, Title: "  "},
		"negative year":     {Kind: domain.KindMovie, Title: "x", Year: -1},
		"tv without tmdb":   {Kind: domain.KindTVShow, Title: "x"},
		"season zero":       {Kind: domain.KindTVShow, Title: "x", TMDBID: "1", Seasons: []int{0}},
		"seasons for movie": {Kind: domain.KindMovie, Title: "x", Seasons: []int{1}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), 1, in)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestGetHidesOtherUsersRequests(t *testing.T) {
	t.Parallel()
	svc, _, lc := newRequestService(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, 1, CreateRequestInput{Kind: domain.KindGame, Title: "Hades"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, 2, req.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = svc.Cancel(ctx, 2, req.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, lc.cancelled)

	got, err := svc.Get(ctx, 1, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hades", got.Title)
}

func TestGetLoadsSeasonsForShows(t *testing.T) {
	t.Parallel()
	svc, s, _ := newRequestService(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, 1, CreateRequestInput{Kind: domain.KindTVShow, Title: "Some Show", TMDBID: "1399"})
	require.NoError(t, err)
	require.NoError(t, s.seasons.UpsertSeason(ctx, &domain.TvShowSeason{
		RequestID:    req.ID,
		SeasonNumber: 1,
		Status:       domain.StatusPending,
	}))

	got, err := svc.Get(ctx, 1, req.ID)
	require.NoError(t, err)
	require.Len(t, got.TvSeasons, 1)
	assert.Equal(t, 1, got.TvSeasons[0].SeasonNumber)
}

func TestListScopesToUserAndValidatesFilter(t *testing.T) {
	t.Parallel()
	svc, _, _ := newRequestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, CreateRequestInput{Kind: domain.KindMovie, Title: "Low", Priority: 1})
	require.NoError(t, err)
	_, err = svc.Create(ctx, 1, CreateRequestInput{Kind: domain.KindMovie, Title: "High", Priority: 9})
	require.NoError(t, err)
	_, err = svc.Create(ctx, 2, CreateRequestInput{Kind: domain.KindMovie, Title: "Other"})
	require.NoError(t, err)

	list, err := svc.List(ctx, 1, repository.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "High", list[0].Title)
	assert.Equal(t, "Low", list[1].Title)

	_, err = svc.List(ctx, 1, repository.RequestFilter{Statuses: []domain.RequestStatus{"DONE"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestLifecycleDelegation(t *testing.T) {
	t.Parallel()
	svc, _, lc := newRequestService(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, 1, CreateRequestInput{Kind: domain.KindMovie, Title: "Dune"})
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, 1, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{req.ID}, lc.cancelled)

	_, err = svc.Reactivate(ctx, 1, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, lc.reactivated[req.ID])

	_, err = svc.SelectCandidate(ctx, 1, req.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{req.ID, 42}}, lc.selected)

	lc.err = errors.New("boom")
	_, err = svc.Cancel(ctx, 1, req.ID)
	assert.EqualError(t, err, "boom")
}

func TestResultsAndProgress(t *testing.T) {
	t.Parallel()
	svc, s, _ := newRequestService(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, 1, CreateRequestInput{Kind: domain.KindMovie, Title: "Dune"})
	require.NoError(t, err)
	require.NoError(t, s.results.ReplaceForRequest(ctx, req.ID, []domain.TorrentSearchResult{
		{Title: "Dune.2021.1080p", Seeders: 40, Score: 80},
		{Title: "Dune.2021.720p", Seeders: 10, Score: 60},
	}))

	results, err := svc.Results(ctx, 1, req.ID)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	req.Status = domain.StatusDownloading
	req.Progress = domain.DownloadProgress{Percent: 40, ETA: "2m"}
	req.Download = &domain.DownloadJob{Handle: "h", RootJobID: "job-1", Scope: domain.ScopeWhole}
	require.NoError(t, s.requests.Update(ctx, req))

	progress, err := svc.Progress(ctx, 1, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, progress.Status)
	assert.Equal(t, 40, progress.Progress.Percent)
	require.NotNil(t, progress.Download)
	assert.Equal(t, "job-1", progress.Download.RootJobID)
}

func TestDeleteOnlyTerminalRequests(t *testing.T) {
	t.Parallel()
	svc, s, _ := newRequestService(t)
	ctx := context.Background()

	req, err := svc.Create(ctx, 1, CreateRequestInput{Kind: domain.KindMovie, Title: "Dune"})
	require.NoError(t, err)

	_, err = svc.Delete(ctx, 1, req.ID)
	assert.ErrorIs(t, err, ErrRequestActive)

	req.Status = domain.StatusCancelled
	require.NoError(t, s.requests.Update(ctx, req))

	deleted, err := svc.Delete(ctx, 1, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, deleted.ID)

	_, err = s.requests.Get(ctx, req.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
