package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"media-acquirer/internal/catalog"
	"media-acquirer/internal/domain"
	"media-acquirer/internal/downloader"
	"media-acquirer/internal/indexer"
	"media-acquirer/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func cloneRequest(r domain.Request) domain.Request {
	if r.Found != nil {
		found := *r.Found
		r.Found = &found
	}
	if r.Download != nil {
		job := *r.Download
		job.Seasons = append([]int(nil), job.Seasons...)
		job.Episodes = append([]domain.EpisodeRef(nil), job.Episodes...)
		r.Download = &job
	}
	r.TvSeasons = nil
	return r
}

type memRequests struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.Request
}

func newMemRequests() *memRequests {
	return &memRequests{rows: map[int64]domain.Request{}}
}

func (m *memRequests) Init(context.Context) error { return nil }

func (m *memRequests) Create(_ context.Context, req *domain.Request) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	req.ID = m.nextID
	m.rows[req.ID] = cloneRequest(*req)
	return req.ID, nil
}

func (m *memRequests) Update(_ context.Context, req *domain.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[req.ID]; !ok {
		return repository.ErrNotFound
	}
	m.rows[req.ID] = cloneRequest(*req)
	return nil
}

func (m *memRequests) Get(_ context.Context, id int64) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneRequest(row)
	return &out, nil
}

func (m *memRequests) List(_ context.Context, filter repository.RequestFilter) ([]domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Request
	for _, row := range m.rows {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, row.Status) {
			continue
		}
		if len(filter.Kinds) > 0 && !containsKind(filter.Kinds, row.Kind) {
			continue
		}
		out = append(out, cloneRequest(row))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memRequests) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func containsStatus(list []domain.RequestStatus, s domain.RequestStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsKind(list []domain.ContentKind, k domain.ContentKind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}

type memSeasons struct {
	mu       sync.Mutex
	nextID   int64
	seasons  []domain.TvShowSeason
	episodes []domain.TvShowEpisode
}

func (m *memSeasons) Init(context.Context) error { return nil }

func (m *memSeasons) UpsertSeason(_ context.Context, season *domain.TvShowSeason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.seasons {
		if s.RequestID == season.RequestID && s.SeasonNumber == season.SeasonNumber {
			m.seasons[i].TotalEpisodes = season.TotalEpisodes
			m.seasons[i].AirDate = season.AirDate
			season.ID = s.ID
			season.Status = s.Status
			return nil
		}
	}
	m.nextID++
	season.ID = m.nextID
	m.seasons = append(m.seasons, *season)
	return nil
}

func (m *memSeasons) UpsertEpisode(_ context.Context, ep *domain.TvShowEpisode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.episodes {
		if e.SeasonID == ep.SeasonID && e.EpisodeNumber == ep.EpisodeNumber {
			m.episodes[i].AirDate = ep.AirDate
			m.episodes[i].Title = ep.Title
			ep.ID = e.ID
			ep.Status = e.Status
			return nil
		}
	}
	m.nextID++
	ep.ID = m.nextID
	m.episodes = append(m.episodes, *ep)
	return nil
}

func (m *memSeasons) ListByRequest(_ context.Context, requestID int64) ([]domain.TvShowSeason, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TvShowSeason
	for _, s := range m.seasons {
		if s.RequestID != requestID {
			continue
		}
		s.Episodes = nil
		for _, e := range m.episodes {
			if e.SeasonID == s.ID {
				s.Episodes = append(s.Episodes, e)
			}
		}
		sort.Slice(s.Episodes, func(i, j int) bool { return s.Episodes[i].EpisodeNumber < s.Episodes[j].EpisodeNumber })
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeasonNumber < out[j].SeasonNumber })
	return out, nil
}

func (m *memSeasons) UpdateSeasonStatus(_ context.Context, id int64, status domain.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.seasons {
		if m.seasons[i].ID == id {
			m.seasons[i].Status = status
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memSeasons) UpdateEpisodeStatus(_ context.Context, id int64, status domain.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.episodes {
		if m.episodes[i].ID == id {
			m.episodes[i].Status = status
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memSeasons) statuses(requestID int64) map[int][]domain.RequestStatus {
	seasons, _ := m.ListByRequest(context.Background(), requestID)
	out := map[int][]domain.RequestStatus{}
	for _, s := range seasons {
		for _, e := range s.Episodes {
			out[s.SeasonNumber] = append(out[s.SeasonNumber], e.Status)
		}
	}
	return out
}

type memResults struct {
	mu     sync.Mutex
	nextID int64
	rows   []domain.TorrentSearchResult
}

func (m *memResults) Init(context.Context) error { return nil }

func (m *memResults) ReplaceForRequest(_ context.Context, requestID int64, results []domain.TorrentSearchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	for _, r := range m.rows {
		if r.RequestID != requestID {
			kept = append(kept, r)
		}
	}
	m.rows = kept
	for i := range results {
		m.nextID++
		results[i].ID = m.nextID
		results[i].RequestID = requestID
		m.rows = append(m.rows, results[i])
	}
	return nil
}

func (m *memResults) ListByRequest(_ context.Context, requestID int64) ([]domain.TorrentSearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TorrentSearchResult
	for _, r := range m.rows {
		if r.RequestID == requestID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memResults) Get(_ context.Context, id int64) (*domain.TorrentSearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			out := r
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memResults) MarkSelected(_ context.Context, requestID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for i := range m.rows {
		if m.rows[i].RequestID != requestID {
			continue
		}
		m.rows[i].Selected = m.rows[i].ID == id
		found = found || m.rows[i].ID == id
	}
	if !found {
		return repository.ErrNotFound
	}
	return nil
}

func (m *memResults) GetSelected(_ context.Context, requestID int64) (*domain.TorrentSearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.RequestID == requestID && r.Selected {
			out := r
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeIndexer struct {
	mu      sync.Mutex
	results []domain.Candidate
	err     error
	queries []indexer.Query
}

func (f *fakeIndexer) Search(_ context.Context, q indexer.Query) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.Candidate(nil), f.results...), nil
}

func (f *fakeIndexer) terms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queries))
	for i, q := range f.queries {
		out[i] = q.Term
	}
	return out
}

type fakeCatalog struct {
	show     *catalog.Show
	episodes map[int][]catalog.EpisodeInfo
	err      error
}

func (f *fakeCatalog) Show(_ context.Context, id string) (*catalog.Show, error) {
	if f.err != nil {
		return nil, f.err
	}
	show := *f.show
	return &show, nil
}

func (f *fakeCatalog) SeasonEpisodes(_ context.Context, id string, season int) ([]catalog.EpisodeInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.episodes[season], nil
}

// fakeReleases treats every episode as released unless listed in unreleased.
type fakeReleases struct {
	catalog    *fakeCatalog
	unreleased map[domain.EpisodeRef]bool
	refreshed  []string
}

func (f *fakeReleases) EpisodeReleased(_ context.Context, _ string, season, episode int) bool {
	return !f.unreleased[domain.EpisodeRef{Season: season, Episode: episode}]
}

func (f *fakeReleases) SeasonAired(_ context.Context, _ string, season int) bool {
	for ref := range f.unreleased {
		if ref.Season == season {
			return false
		}
	}
	return true
}

func (f *fakeReleases) Episodes(ctx context.Context, id string, season int) ([]catalog.EpisodeInfo, error) {
	return f.catalog.SeasonEpisodes(ctx, id, season)
}

func (f *fakeReleases) Refresh(id string) {
	f.refreshed = append(f.refreshed, id)
}

type fakeEngine struct {
	mu        sync.Mutex
	next      int
	jobs      map[string]downloader.JobState
	submitted []string
	cancelled []string
	submitErr error
	cancelErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{jobs: map[string]downloader.JobState{}}
}

func (f *fakeEngine) Submit(_ context.Context, locator string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.next++
	id := fmt.Sprintf("job-%d", f.next)
	f.jobs[id] = downloader.JobState{ID: id, Status: downloader.JobActive}
	f.submitted = append(f.submitted, locator)
	return id, nil
}

func (f *fakeEngine) Status(_ context.Context, id string) (downloader.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.jobs[id]
	if !ok {
		return downloader.JobState{}, fmt.Errorf("job %s: %w", id, downloader.ErrJobNotFound)
	}
	return state, nil
}

func (f *fakeEngine) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func (f *fakeEngine) set(state downloader.JobState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[state.ID] = state
}

func (f *fakeEngine) forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
}

type fakeOrganizer struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeOrganizer) Organize(_ context.Context, req *domain.Request, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, localPath)
	if f.err != nil {
		return "", f.err
	}
	return "s3://bucket/" + localPath, nil
}
