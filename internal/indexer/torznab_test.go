package indexer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-acquirer/internal/domain"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <title>AggregateSearch</title>
    <item>
      <title>Some.Show.S02.1080p.WEB-DL.x265-GRP</title>
      <guid>guid-1</guid>
      <link>https://tracker.example/dl/1.torrent</link>
      <pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
      <size>4294967296</size>
      <category>5040</category>
      <jackettindexer id="one">IndexerOne</jackettindexer>
      <enclosure url="https://tracker.example/dl/1.torrent" length="4294967296" type="application/x-bittorrent"/>
      <torznab:attr name="seeders" value="42"/>
      <torznab:attr name="peers" value="50"/>
      <torznab:attr name="infohash" value="ABCDEF0123456789ABCDEF0123456789ABCDEF01"/>
    </item>
    <item>
      <title>Some.Show.S02E05.720p.HDTV.x264-OTHER</title>
      <guid>guid-2</guid>
      <link>magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567</link>
      <category>5030</category>
      <jackettindexer id="two">IndexerTwo</jackettindexer>
      <torznab:attr name="seeders" value="3"/>
      <torznab:attr name="size" value="734003200"/>
    </item>
  </channel>
</rss>`

func TestQueryBuilders(t *testing.T) {
	assert.Equal(t, "Arrival 2016", MovieQuery("Arrival", 2016))
	assert.Equal(t, "Arrival", MovieQuery("Arrival", 0))
	assert.Equal(t, "Some Show S02", SeasonQuery("Some Show", 2))
	assert.Equal(t, "Some Show S02E05", EpisodeQuery("Some Show", 2, 5))
	assert.Equal(t, "Some Show complete", CompleteSeriesQuery("Some Show"))

	assert.Equal(t, []int{CategoryMovies}, CategoriesFor(domain.KindMovie))
	assert.Equal(t, []int{CategoryTV}, CategoriesFor(domain.KindTVShow))
	assert.Equal(t, []int{CategoryGames}, CategoriesFor(domain.KindGame))
}

func TestTorznabSearchParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api", r.URL.Path)
		assert.Equal(t, "search", r.URL.Query().Get("t"))
		assert.Equal(t, "Some Show S02", r.URL.Query().Get("q"))
		assert.Equal(t, "5000", r.URL.Query().Get("cat"))
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	client := NewTorznabClient(TorznabConfig{URL: srv.URL, APIKey: "secret"})
	results, err := client.Search(context.Background(), Query{Term: "Some Show S02", Categories: []int{CategoryTV}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := results[0]
	assert.Equal(t, "Some.Show.S02.1080p.WEB-DL.x265-GRP", first.Title)
	assert.Equal(t, "https://tracker.example/dl/1.torrent", first.Link)
	assert.Empty(t, first.Magnet)
	assert.Equal(t, 42, first.Seeders)
	assert.Equal(t, 8, first.Leechers)
	assert.Equal(t, int64(4294967296), first.SizeBytes)
	assert.Equal(t, "4.3 GB", first.Size)
	assert.Equal(t, "abcdef0123456789abcdef0123456789abcdef01", first.InfoHash)
	assert.Equal(t, "IndexerOne", first.Indexer)
	assert.Equal(t, "5040", first.Category)
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 -0700", first.PublishDate)

	second := results[1]
	assert.Equal(t, "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567", second.Magnet)
	assert.Equal(t, int64(734003200), second.SizeBytes)
	assert.Equal(t, "IndexerTwo", second.Indexer)
}

func TestTorznabSearchFiltersIndexers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	client := NewTorznabClient(TorznabConfig{URL: srv.URL})
	results, err := client.Search(context.Background(), Query{Term: "x", Indexers: []string{"indexertwo"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "IndexerTwo", results[0].Indexer)
}

func TestTorznabSearchPerIndexerEndpoint(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`<rss><channel><title>x</title></channel></rss>`))
	}))
	defer srv.Close()

	client := NewTorznabClient(TorznabConfig{URL: srv.URL + "/indexers/{indexer}/results/torznab"})
	_, err := client.Search(context.Background(), Query{Term: "x", Indexers: []string{"one", "two"}})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/indexers/one/results/torznab/api",
		"/indexers/two/results/torznab/api",
	}, paths)
}

func TestTorznabSearchRetriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewTorznabClient(TorznabConfig{URL: srv.URL, Attempts: 2})
	_, err := client.Search(context.Background(), Query{Term: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
