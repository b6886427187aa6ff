package statemachine

import (
	"sort"

	"media-acquirer/internal/domain"
)

// SeasonChange is a season status that differs from what is stored.
type SeasonChange struct {
	SeasonID     int64
	SeasonNumber int
	From         domain.RequestStatus
	To           domain.RequestStatus
}

// EpisodeChange is an episode status that differs from what is stored.
type EpisodeChange struct {
	EpisodeID     int64
	SeasonNumber  int
	EpisodeNumber int
	From          domain.RequestStatus
	To            domain.RequestStatus
}

// ShowState is the derived view of a TV request.
type ShowState struct {
	Seasons        map[int]domain.RequestStatus
	Show           domain.RequestStatus
	SeasonChanges  []SeasonChange
	EpisodeChanges []EpisodeChange
}

// Changed reports whether anything needs persisting.
func (s ShowState) Changed() bool {
	return len(s.SeasonChanges) > 0 || len(s.EpisodeChanges) > 0
}

// Outcome is a finished download for a season pack (Episode == 0) or a
// single episode.
type Outcome struct {
	Season  int
	Episode int
	Status  domain.RequestStatus
}

// DeriveStatus aggregates child statuses: all completed, then any
// downloading, found or searching, then all failed, otherwise pending.
func DeriveStatus(statuses []domain.RequestStatus) domain.RequestStatus {
	if len(statuses) == 0 {
		return domain.StatusPending
	}

	var completed, failed int
	seen := map[domain.RequestStatus]bool{}
	for _, s := range statuses {
		seen[s] = true
		switch s {
		case domain.StatusCompleted:
			completed++
		case domain.StatusFailed:
			failed++
		}
	}

	switch {
	case completed == len(statuses):
		return domain.StatusCompleted
	case seen[domain.StatusDownloading]:
		return domain.StatusDownloading
	case seen[domain.StatusFound]:
		return domain.StatusFound
	case seen[domain.StatusSearching]:
		return domain.StatusSearching
	case failed == len(statuses):
		return domain.StatusFailed
	}
	return domain.StatusPending
}

// SeasonStatus derives a season's status from its episodes. A season with
// no recorded episodes keeps its stored status.
func SeasonStatus(season domain.TvShowSeason) domain.RequestStatus {
	if len(season.Episodes) == 0 {
		if season.Status == "" {
			return domain.StatusPending
		}
		return season.Status
	}
	statuses := make([]domain.RequestStatus, len(season.Episodes))
	for i, ep := range season.Episodes {
		statuses[i] = ep.Status
	}
	return DeriveStatus(statuses)
}

// ShowStatus derives the request-level status from season statuses keyed by
// season number.
func ShowStatus(seasons map[int]domain.RequestStatus, ongoing bool) domain.RequestStatus {
	if len(seasons) == 0 {
		return domain.StatusPending
	}

	numbers := make([]int, 0, len(seasons))
	for n := range seasons {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	if ongoing {
		for i := len(numbers) - 1; i >= 0; i-- {
			if status := seasons[numbers[i]]; status != domain.StatusCompleted {
				return status
			}
		}
		// every aired season is done; wait for new releases
		return domain.StatusPending
	}

	statuses := make([]domain.RequestStatus, len(numbers))
	for i, n := range numbers {
		statuses[i] = seasons[n]
	}
	return DeriveStatus(statuses)
}

// Evaluate derives every season status and the show status. It performs no
// I/O; the returned changes are what the caller must persist.
func Evaluate(seasons []domain.TvShowSeason, ongoing bool) ShowState {
	state := ShowState{Seasons: make(map[int]domain.RequestStatus, len(seasons))}
	for _, season := range seasons {
		derived := SeasonStatus(season)
		state.Seasons[season.SeasonNumber] = derived
		if derived != season.Status {
			state.SeasonChanges = append(state.SeasonChanges, SeasonChange{
				SeasonID:     season.ID,
				SeasonNumber: season.SeasonNumber,
				From:         season.Status,
				To:           derived,
			})
		}
	}
	state.Show = ShowStatus(state.Seasons, ongoing)
	return state
}

// ApplyOutcome marks the episodes covered by outcome and re-evaluates the
// show. seasons is not modified.
func ApplyOutcome(seasons []domain.TvShowSeason, outcome Outcome, ongoing bool) ShowState {
	updated := make([]domain.TvShowSeason, len(seasons))
	var episodeChanges []EpisodeChange

	for i, season := range seasons {
		updated[i] = season
		if season.SeasonNumber != outcome.Season {
			continue
		}
		episodes := make([]domain.TvShowEpisode, len(season.Episodes))
		copy(episodes, season.Episodes)
		for j, ep := range episodes {
			if outcome.Episode != 0 && ep.EpisodeNumber != outcome.Episode {
				continue
			}
			if ep.Status == outcome.Status {
				continue
			}
			episodeChanges = append(episodeChanges, EpisodeChange{
				EpisodeID:     ep.ID,
				SeasonNumber:  season.SeasonNumber,
				EpisodeNumber: ep.EpisodeNumber,
				From:          ep.Status,
				To:            outcome.Status,
			})
			episodes[j].Status = outcome.Status
		}
		updated[i].Episodes = episodes
		if len(episodes) == 0 && outcome.Episode == 0 {
			updated[i].Status = outcome.Status
		}
	}

	state := Evaluate(updated, ongoing)
	state.EpisodeChanges = episodeChanges
	// seasons without episode rows carry the outcome on the season itself
	for _, season := range seasons {
		if season.SeasonNumber == outcome.Season && len(season.Episodes) == 0 && outcome.Episode == 0 && season.Status != outcome.Status {
			state.SeasonChanges = append(state.SeasonChanges, SeasonChange{
				SeasonID:     season.ID,
				SeasonNumber: season.SeasonNumber,
				From:         season.Status,
				To:           outcome.Status,
			})
		}
	}
	return state
}
