package gaps

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-acquirer/internal/domain"
)

// fakeReleases marks episodes released up to a per-season episode number.
type fakeReleases struct {
	releasedThrough map[int]int
}

func (f fakeReleases) EpisodeReleased(_ context.Context, _ string, season, episode int) bool {
	return episode <= f.releasedThrough[season]
}

func (f fakeReleases) SeasonAired(_ context.Context, _ string, season int) bool {
	return f.releasedThrough[season] > 0
}

func tvSeason(number, total, completedThrough int) domain.TvShowSeason {
	s := domain.TvShowSeason{SeasonNumber: number, TotalEpisodes: &total, Status: domain.StatusPending}
	for i := 1; i <= total; i++ {
		status := domain.StatusPending
		if i <= completedThrough {
			status = domain.StatusCompleted
		}
		s.Episodes = append(s.Episodes, domain.TvShowEpisode{EpisodeNumber: i, Status: status})
	}
	return s
}

func newTestAnalyzer(released map[int]int) *Analyzer {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewAnalyzer(fakeReleases{releasedThrough: released}, log)
}

func TestMissingVersusIncomplete(t *testing.T) {
	t.Parallel()
	req := &domain.Request{ID: 1, Kind: domain.KindTVShow}

	a := newTestAnalyzer(map[int]int{1: 3, 2: 10})
	out := a.Analyze(context.Background(), req, []domain.TvShowSeason{
		tvSeason(1, 10, 0),
		tvSeason(2, 10, 7),
	})

	assert.Equal(t, []int{1}, out.MissingSeasons)
	assert.Equal(t, []int{2}, out.IncompleteSeasons)

	s1, ok := out.Season(1)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, s1.MissingEpisodes)
	assert.False(t, s1.FullyDownloaded)

	s2, ok := out.Incomplete(2)
	require.True(t, ok)
	assert.Equal(t, []int{8, 9, 10}, s2.MissingEpisodes)
	assert.Equal(t, 7, s2.CompletedEpisodes)
	assert.True(t, out.NeedsMoreContent())
}

func TestUnairedSeasonIsNeverAGap(t *testing.T) {
	t.Parallel()
	req := &domain.Request{Kind: domain.KindTVShow}

	a := newTestAnalyzer(map[int]int{1: 8})
	out := a.Analyze(context.Background(), req, []domain.TvShowSeason{
		tvSeason(1, 8, 8),
		tvSeason(2, 8, 0),
	})

	assert.Empty(t, out.MissingSeasons)
	assert.Empty(t, out.IncompleteSeasons)
	assert.False(t, out.NeedsMoreContent())
	assert.Empty(t, out.Recommendations)

	s1, _ := out.Season(1)
	assert.True(t, s1.FullyDownloaded)
	assert.True(t, s1.FullyAired)
}

func TestRecommendationOrdering(t *testing.T) {
	t.Parallel()
	req := &domain.Request{Kind: domain.KindTVShow}

	a := newTestAnalyzer(map[int]int{1: 6, 2: 6, 3: 6, 4: 6, 5: 6})
	out := a.Analyze(context.Background(), req, []domain.TvShowSeason{
		tvSeason(1, 6, 0),
		tvSeason(2, 6, 0),
		tvSeason(3, 6, 0),
		tvSeason(4, 6, 6),
		tvSeason(5, 6, 0),
	})

	require.Equal(t, []int{1, 2, 3, 5}, out.MissingSeasons)
	require.Len(t, out.Recommendations, 3)

	assert.Equal(t, KindMultiSeasonPack, out.Recommendations[0].Kind)
	assert.Equal(t, []int{1, 2, 3}, out.Recommendations[0].Seasons)
	assert.Equal(t, 105, out.Recommendations[0].Priority)

	assert.Equal(t, KindCompleteSeries, out.Recommendations[1].Kind)
	assert.Equal(t, 100, out.Recommendations[1].Priority)

	assert.Equal(t, KindSeasonPack, out.Recommendations[2].Kind)
	assert.Equal(t, []int{5}, out.Recommendations[2].Seasons)
	assert.Equal(t, 70, out.Recommendations[2].Priority)
}

func TestNoCompleteSeriesBelowThreshold(t *testing.T) {
	t.Parallel()
	req := &domain.Request{Kind: domain.KindTVShow}

	a := newTestAnalyzer(map[int]int{1: 4, 3: 4})
	out := a.Analyze(context.Background(), req, []domain.TvShowSeason{
		tvSeason(1, 4, 0),
		tvSeason(2, 4, 4),
		tvSeason(3, 4, 0),
	})

	require.Len(t, out.Recommendations, 2)
	for _, rec := range out.Recommendations {
		assert.Equal(t, KindSeasonPack, rec.Kind)
	}
}

func TestIncompleteSeasonRecommendations(t *testing.T) {
	t.Parallel()
	req := &domain.Request{Kind: domain.KindTVShow}

	a := newTestAnalyzer(map[int]int{1: 10, 2: 10})
	out := a.Analyze(context.Background(), req, []domain.TvShowSeason{
		tvSeason(1, 10, 8), // two missing
		tvSeason(2, 10, 2), // eight missing
	})

	require.Len(t, out.Recommendations, 2)
	assert.Equal(t, Recommendation{
		Kind:     KindSeasonRedownload,
		Seasons:  []int{2},
		Priority: 65,
		Reason:   "season 2 missing 8 episodes",
	}, out.Recommendations[0])
	assert.Equal(t, KindIndividualEpisodes, out.Recommendations[1].Kind)
	assert.Equal(t, []int{9, 10}, out.Recommendations[1].Episodes)
	assert.Equal(t, 48, out.Recommendations[1].Priority)
}

func TestOnlyRequestedSeasonsAreAnalyzed(t *testing.T) {
	t.Parallel()
	req := &domain.Request{Kind: domain.KindTVShow, Seasons: []int{2}}

	a := newTestAnalyzer(map[int]int{1: 5, 2: 5})
	out := a.Analyze(context.Background(), req, []domain.TvShowSeason{
		tvSeason(1, 5, 0),
		tvSeason(2, 5, 0),
		{SeasonNumber: 0},
	})

	assert.Equal(t, []int{2}, out.MissingSeasons)
	require.Len(t, out.Seasons, 1)
}

func TestConsecutiveGroups(t *testing.T) {
	t.Parallel()
	assert.Equal(t, [][]int{{1, 2, 3}, {5}, {7, 8}}, consecutiveGroups([]int{1, 2, 3, 5, 7, 8}))
	assert.Nil(t, consecutiveGroups(nil))
}
