package gaps

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"media-acquirer/internal/domain"
)

// ReleaseChecker answers release questions with a one-day safety buffer.
// Lookup failures must be reported as not released.
type ReleaseChecker interface {
	EpisodeReleased(ctx context.Context, catalogID string, season, episode int) bool
	SeasonAired(ctx context.Context, catalogID string, season int) bool
}

type RecommendationKind string

const (
	KindMultiSeasonPack    RecommendationKind = "multi-season-pack"
	KindCompleteSeries     RecommendationKind = "complete-series"
	KindSeasonPack         RecommendationKind = "season-pack"
	KindSeasonRedownload   RecommendationKind = "season-pack-redownload"
	KindIndividualEpisodes RecommendationKind = "individual-episodes"
)

const (
	priorityCompleteSeries   = 100
	priorityMultiSeasonBase  = 90
	priorityMultiSeasonStep  = 5
	prioritySeasonPack       = 70
	prioritySeasonRedownload = 65
	priorityEpisodesBase     = 50
	maxIndividualEpisodes    = 3
	minMultiSeasonGroup      = 2
	minSeasonsForSeries      = 3
)

// SeasonGap is the per-season result of an analysis.
type SeasonGap struct {
	SeasonNumber      int
	TotalEpisodes     int
	CompletedEpisodes int
	// MissingEpisodes holds released episodes that are not completed, ascending.
	MissingEpisodes []int
	FullyAired      bool
	FullyDownloaded bool
}

type Recommendation struct {
	Kind     RecommendationKind
	Seasons  []int
	Episodes []int
	Priority int
	Reason   string
}

type Analysis struct {
	Seasons           []SeasonGap
	MissingSeasons    []int
	IncompleteSeasons []int
	Recommendations   []Recommendation
}

// NeedsMoreContent reports whether any season is missing or incomplete.
func (a Analysis) NeedsMoreContent() bool {
	return len(a.MissingSeasons) > 0 || len(a.IncompleteSeasons) > 0
}

// GapCount is the number of missing plus incomplete seasons.
func (a Analysis) GapCount() int {
	return len(a.MissingSeasons) + len(a.IncompleteSeasons)
}

func (a Analysis) IsMissing(season int) bool {
	return containsInt(a.MissingSeasons, season)
}

// Incomplete returns the gap for season when it is incomplete.
func (a Analysis) Incomplete(season int) (SeasonGap, bool) {
	if !containsInt(a.IncompleteSeasons, season) {
		return SeasonGap{}, false
	}
	return a.Season(season)
}

func (a Analysis) Season(number int) (SeasonGap, bool) {
	for _, s := range a.Seasons {
		if s.SeasonNumber == number {
			return s, true
		}
	}
	return SeasonGap{}, false
}

type Analyzer struct {
	releases ReleaseChecker
	log      *logrus.Logger
}

func NewAnalyzer(releases ReleaseChecker, log *logrus.Logger) *Analyzer {
	return &Analyzer{releases: releases, log: log}
}

// Analyze compares recorded seasons with release knowledge for the requested
// seasons of req. Specials (season 0) are ignored.
func (a *Analyzer) Analyze(ctx context.Context, req *domain.Request, seasons []domain.TvShowSeason) Analysis {
	ordered := make([]domain.TvShowSeason, len(seasons))
	copy(ordered, seasons)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SeasonNumber < ordered[j].SeasonNumber })

	var out Analysis
	for _, season := range ordered {
		if season.SeasonNumber <= 0 || !req.WantsSeason(season.SeasonNumber) {
			continue
		}
		gap, ok := a.analyzeSeason(ctx, req, season)
		if !ok {
			continue
		}
		out.Seasons = append(out.Seasons, gap)

		switch {
		case gap.CompletedEpisodes == 0 && len(gap.MissingEpisodes) > 0:
			out.MissingSeasons = append(out.MissingSeasons, gap.SeasonNumber)
		case gap.CompletedEpisodes > 0 && !gap.FullyDownloaded && len(gap.MissingEpisodes) > 0:
			out.IncompleteSeasons = append(out.IncompleteSeasons, gap.SeasonNumber)
		}
	}
	out.Recommendations = recommend(out)

	if a.log != nil && out.NeedsMoreContent() {
		a.log.WithFields(logrus.Fields{
			"request_id": req.ID,
			"missing":    out.MissingSeasons,
			"incomplete": out.IncompleteSeasons,
		}).Debug("content gaps detected")
	}
	return out
}

func (a *Analyzer) analyzeSeason(ctx context.Context, req *domain.Request, season domain.TvShowSeason) (SeasonGap, bool) {
	total := season.EpisodeCount()
	if total == 0 {
		if a.log != nil {
			a.log.WithFields(logrus.Fields{"request_id": req.ID, "season": season.SeasonNumber}).
				Debug("season has no episode data yet")
		}
		return SeasonGap{}, false
	}

	gap := SeasonGap{SeasonNumber: season.SeasonNumber, TotalEpisodes: total}
	for n := 1; n <= total; n++ {
		if ep, ok := season.Episode(n); ok && ep.Status == domain.StatusCompleted {
			gap.CompletedEpisodes++
			continue
		}
		if a.releases.EpisodeReleased(ctx, req.CatalogID(), season.SeasonNumber, n) {
			gap.MissingEpisodes = append(gap.MissingEpisodes, n)
		}
	}
	gap.FullyDownloaded = gap.CompletedEpisodes >= total
	gap.FullyAired = a.releases.SeasonAired(ctx, req.CatalogID(), season.SeasonNumber)
	return gap, true
}

func recommend(a Analysis) []Recommendation {
	var recs []Recommendation

	grouped := map[int]bool{}
	for _, group := range consecutiveGroups(a.MissingSeasons) {
		if len(group) < minMultiSeasonGroup {
			continue
		}
		for _, s := range group {
			grouped[s] = true
		}
		recs = append(recs, Recommendation{
			Kind:     KindMultiSeasonPack,
			Seasons:  group,
			Priority: priorityMultiSeasonBase + priorityMultiSeasonStep*len(group),
			Reason:   fmt.Sprintf("seasons %d-%d missing", group[0], group[len(group)-1]),
		})
	}

	if len(a.MissingSeasons) >= minSeasonsForSeries {
		recs = append(recs, Recommendation{
			Kind:     KindCompleteSeries,
			Seasons:  append([]int(nil), a.MissingSeasons...),
			Priority: priorityCompleteSeries,
			Reason:   fmt.Sprintf("%d seasons missing", len(a.MissingSeasons)),
		})
	}

	for _, s := range a.MissingSeasons {
		if grouped[s] {
			continue
		}
		recs = append(recs, Recommendation{
			Kind:     KindSeasonPack,
			Seasons:  []int{s},
			Priority: prioritySeasonPack,
			Reason:   fmt.Sprintf("season %d missing", s),
		})
	}

	for _, s := range a.IncompleteSeasons {
		gap, _ := a.Season(s)
		missing := len(gap.MissingEpisodes)
		if missing <= maxIndividualEpisodes {
			recs = append(recs, Recommendation{
				Kind:     KindIndividualEpisodes,
				Seasons:  []int{s},
				Episodes: append([]int(nil), gap.MissingEpisodes...),
				Priority: priorityEpisodesBase - missing,
				Reason:   fmt.Sprintf("season %d missing %d episodes", s, missing),
			})
			continue
		}
		recs = append(recs, Recommendation{
			Kind:     KindSeasonRedownload,
			Seasons:  []int{s},
			Priority: prioritySeasonRedownload,
			Reason:   fmt.Sprintf("season %d missing %d episodes", s, missing),
		})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority > recs[j].Priority })
	return recs
}

// consecutiveGroups splits an ascending list into runs of consecutive numbers.
func consecutiveGroups(numbers []int) [][]int {
	var (
		groups  [][]int
		current []int
	)
	for _, n := range numbers {
		if len(current) > 0 && n != current[len(current)-1]+1 {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, n)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}
