package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeCatalog struct {
	calls    atomic.Int32
	episodes map[int][]EpisodeInfo
	err      error
}

func (f *fakeCatalog) Show(context.Context, string) (*Show, error) {
	return nil, errors.New("not used")
}

func (f *fakeCatalog) SeasonEpisodes(_ context.Context, _ string, season int) ([]EpisodeInfo, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.episodes[season], nil
}

func day(t time.Time) *time.Time { return &t }

func TestReleaseCacheTTL(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache, err := NewReleaseCache(2, time.Hour, clock.Now)
	require.NoError(t, err)

	cache.Put("42", 1, []EpisodeInfo{{Number: 1}})
	_, ok := cache.Get("42", 1)
	assert.True(t, ok)

	clock.now = clock.now.Add(59 * time.Minute)
	_, ok = cache.Get("42", 1)
	assert.True(t, ok)

	clock.now = clock.now.Add(time.Minute)
	_, ok = cache.Get("42", 1)
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}

func TestReleaseCacheCapacityAndInvalidate(t *testing.T) {
	t.Parallel()
	cache, err := NewReleaseCache(2, 0, nil)
	require.NoError(t, err)

	cache.Put("1", 1, nil)
	cache.Put("1", 2, nil)
	cache.Put("2", 1, nil)
	assert.Equal(t, 2, cache.Len())
	_, ok := cache.Get("1", 1)
	assert.False(t, ok, "least recently used entry is evicted")

	cache.Invalidate("1")
	_, ok = cache.Get("1", 2)
	assert.False(t, ok)
	_, ok = cache.Get("2", 1)
	assert.True(t, ok)
}

func TestReleaseValidatorBuffer(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	catalog := &fakeCatalog{episodes: map[int][]EpisodeInfo{
		1: {
			{Number: 1, AirDate: day(now.Add(-48 * time.Hour))},
			{Number: 2, AirDate: day(now.Add(-12 * time.Hour))},
			{Number: 3},
		},
		2: {
			{Number: 1, AirDate: day(now.Add(-72 * time.Hour))},
		},
	}}
	cache, err := NewReleaseCache(16, time.Hour, clock.Now)
	require.NoError(t, err)
	v := NewReleaseValidator(catalog, cache, clock.Now, nil)
	ctx := context.Background()

	assert.True(t, v.EpisodeReleased(ctx, "42", 1, 1))
	assert.False(t, v.EpisodeReleased(ctx, "42", 1, 2), "aired less than a day ago")
	assert.False(t, v.EpisodeReleased(ctx, "42", 1, 3), "no air date")
	assert.False(t, v.EpisodeReleased(ctx, "42", 1, 9), "unknown episode")
	assert.False(t, v.SeasonAired(ctx, "42", 1))
	assert.True(t, v.SeasonAired(ctx, "42", 2))
	assert.Equal(t, int32(2), catalog.calls.Load(), "one lookup per season")

	v.Refresh("42")
	assert.True(t, v.EpisodeReleased(ctx, "42", 1, 1))
	assert.Equal(t, int32(3), catalog.calls.Load())
}

func TestReleaseValidatorFailuresMeanUnreleased(t *testing.T) {
	t.Parallel()
	cache, err := NewReleaseCache(4, time.Hour, nil)
	require.NoError(t, err)
	v := NewReleaseValidator(&fakeCatalog{err: errors.New("timeout")}, cache, nil, nil)

	assert.False(t, v.EpisodeReleased(context.Background(), "42", 1, 1))
	assert.False(t, v.SeasonAired(context.Background(), "42", 1))
	assert.False(t, v.EpisodeReleased(context.Background(), "", 1, 1))
}

func TestTMDBClient(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		switch r.URL.Path {
		case "/tv/1399":
			w.Write([]byte(`{"id":1399,"name":"Some Show","status":"Returning Series","number_of_episodes":20,
				"seasons":[{"season_number":0,"episode_count":2,"air_date":""},
				           {"season_number":1,"episode_count":10,"air_date":"2011-04-17"}]}`))
		case "/tv/1399/season/1":
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"episodes":[{"episode_number":1,"name":"Pilot","air_date":"2011-04-17"},
				{"episode_number":2,"name":"Next","air_date":""}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewTMDBClient(TMDBConfig{APIKey: "secret", BaseURL: srv.URL + "/", Timeout: time.Second, Attempts: 3})
	ctx := context.Background()

	show, err := c.Show(ctx, "1399")
	require.NoError(t, err)
	assert.True(t, show.Ongoing)
	assert.Equal(t, "Some Show", show.Title)
	require.Len(t, show.Seasons, 2)
	assert.Nil(t, show.Seasons[0].AirDate)
	assert.Equal(t, 10, show.Seasons[1].EpisodeCount)

	episodes, err := c.SeasonEpisodes(ctx, "1399", 1)
	require.NoError(t, err, "a 502 is retried")
	require.Len(t, episodes, 2)
	assert.Equal(t, "Pilot", episodes[0].Title)
	require.NotNil(t, episodes[0].AirDate)
	assert.Nil(t, episodes[1].AirDate)

	_, err = c.Show(ctx, "404")
	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.code)
}
