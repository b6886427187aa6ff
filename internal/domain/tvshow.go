package domain

import "time"

// TvShowSeason is owned by a TV request. Its Status is derived from its
// episodes and only written by the TV show state machine.
type TvShowSeason struct {
	ID            int64
	RequestID     int64
	SeasonNumber  int
	TotalEpisodes *int
	Status        RequestStatus
	AirDate       *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Episodes      []TvShowEpisode
}

// EpisodeCount returns the catalog total when known, otherwise the number of
// recorded episodes.
func (s TvShowSeason) EpisodeCount() int {
	if s.TotalEpisodes != nil && *s.TotalEpisodes > 0 {
		return *s.TotalEpisodes
	}
	return len(s.Episodes)
}

// Episode returns the recorded episode with the given number.
func (s TvShowSeason) Episode(number int) (TvShowEpisode, bool) {
	for _, ep := range s.Episodes {
		if ep.EpisodeNumber == number {
			return ep, true
		}
	}
	return TvShowEpisode{}, false
}

type TvShowEpisode struct {
	ID            int64
	SeasonID      int64
	EpisodeNumber int
	Status        RequestStatus
	AirDate       *time.Time
	Title         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
