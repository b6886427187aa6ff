package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-acquirer/internal/domain"
)

func season(number int, status domain.RequestStatus, episodes ...domain.RequestStatus) domain.TvShowSeason {
	s := domain.TvShowSeason{ID: int64(number), SeasonNumber: number, Status: status}
	for i, es := range episodes {
		s.Episodes = append(s.Episodes, domain.TvShowEpisode{
			ID:            int64(number*100 + i + 1),
			SeasonID:      s.ID,
			EpisodeNumber: i + 1,
			Status:        es,
		})
	}
	return s
}

const (
	pending     = domain.StatusPending
	searching   = domain.StatusSearching
	found       = domain.StatusFound
	downloading = domain.StatusDownloading
	completed   = domain.StatusCompleted
	failed      = domain.StatusFailed
)

func TestDeriveStatusPrecedence(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   []domain.RequestStatus
		want domain.RequestStatus
	}{
		{[]domain.RequestStatus{completed, completed}, completed},
		{[]domain.RequestStatus{completed, downloading, found}, downloading},
		{[]domain.RequestStatus{found, searching, pending}, found},
		{[]domain.RequestStatus{searching, failed}, searching},
		{[]domain.RequestStatus{failed, failed}, failed},
		{[]domain.RequestStatus{failed, completed}, pending},
		{[]domain.RequestStatus{pending, completed}, pending},
		{nil, pending},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveStatus(tc.in), "%v", tc.in)
	}
}

func TestShowStatusEndedShow(t *testing.T) {
	t.Parallel()
	assert.Equal(t, completed, ShowStatus(map[int]domain.RequestStatus{1: completed, 2: completed}, false))
	assert.Equal(t, downloading, ShowStatus(map[int]domain.RequestStatus{1: completed, 2: downloading, 3: searching}, false))
	assert.Equal(t, pending, ShowStatus(map[int]domain.RequestStatus{1: completed, 2: failed}, false))
}

func TestShowStatusOngoingShow(t *testing.T) {
	t.Parallel()
	assert.Equal(t, pending, ShowStatus(map[int]domain.RequestStatus{1: completed, 2: completed}, true))
	assert.Equal(t, searching, ShowStatus(map[int]domain.RequestStatus{1: downloading, 2: completed, 3: searching}, true))
	// latest non-completed season wins even if an earlier one is further along
	assert.Equal(t, failed, ShowStatus(map[int]domain.RequestStatus{1: downloading, 2: failed, 3: completed}, true))
}

func TestEvaluateIsIdempotent(t *testing.T) {
	t.Parallel()
	seasons := []domain.TvShowSeason{
		season(1, completed, completed, completed),
		season(2, downloading, completed, downloading),
		season(3, pending, pending, failed),
	}

	state := Evaluate(seasons, false)
	assert.False(t, state.Changed())
	assert.Empty(t, state.SeasonChanges)
	assert.Equal(t, downloading, state.Show)
}

func TestEvaluateReportsDrift(t *testing.T) {
	t.Parallel()
	seasons := []domain.TvShowSeason{
		season(1, pending, completed, completed),
		season(2, pending, failed, failed),
	}
	state := Evaluate(seasons, false)
	require.Len(t, state.SeasonChanges, 2)
	assert.Equal(t, SeasonChange{SeasonID: 1, SeasonNumber: 1, From: pending, To: completed}, state.SeasonChanges[0])
	assert.Equal(t, failed, state.SeasonChanges[1].To)
	assert.Equal(t, pending, state.Show)
}

func TestApplySeasonPackOutcome(t *testing.T) {
	t.Parallel()
	seasons := []domain.TvShowSeason{
		season(1, downloading, downloading, downloading, completed),
		season(2, pending, pending, pending),
	}

	state := ApplyOutcome(seasons, Outcome{Season: 1, Status: completed}, true)
	require.Len(t, state.EpisodeChanges, 2)
	for _, ch := range state.EpisodeChanges {
		assert.Equal(t, 1, ch.SeasonNumber)
		assert.Equal(t, completed, ch.To)
	}
	assert.Equal(t, completed, state.Seasons[1])
	assert.Equal(t, pending, state.Show)
	assert.Equal(t, downloading, seasons[0].Episodes[0].Status, "input must not be mutated")
}

func TestApplyEpisodeOutcome(t *testing.T) {
	t.Parallel()
	seasons := []domain.TvShowSeason{season(1, downloading, completed, downloading, downloading)}

	state := ApplyOutcome(seasons, Outcome{Season: 1, Episode: 2, Status: failed}, false)
	require.Len(t, state.EpisodeChanges, 1)
	assert.Equal(t, 2, state.EpisodeChanges[0].EpisodeNumber)
	assert.Equal(t, downloading, state.Seasons[1])
}

func TestApplyOutcomeWithoutEpisodeRows(t *testing.T) {
	t.Parallel()
	seasons := []domain.TvShowSeason{{ID: 7, SeasonNumber: 4, Status: downloading}}

	state := ApplyOutcome(seasons, Outcome{Season: 4, Status: completed}, false)
	assert.Empty(t, state.EpisodeChanges)
	require.Len(t, state.SeasonChanges, 1)
	assert.Equal(t, completed, state.SeasonChanges[0].To)
	assert.Equal(t, completed, state.Show)
}
