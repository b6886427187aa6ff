package selector

import (
	"sort"

	"github.com/sirupsen/logrus"

	"media-acquirer/internal/classifier"
	"media-acquirer/internal/domain"
	"media-acquirer/internal/gaps"
)

// MinConfidence is the classification confidence below which a candidate is ignored.
const MinConfidence = 70

const (
	priorityCompleteSeries = 100
	completeSeriesBonusMax = 20
	completeSeriesDecay    = 5
	priorityMultiSeason    = 80
	multiSeasonStep        = 5
	prioritySingleOfRange  = 65
	prioritySeasonPack     = 60
	priorityEpisode        = 30
	seasonBonusMax         = 50
	seasonBonusStep        = 10
	episodeBonusMax        = 20
	episodeBonusStep       = 2
)

type MatchKind string

const (
	MatchCompleteSeries MatchKind = "complete-series"
	MatchMultiSeason    MatchKind = "multi-season"
	MatchSeasonPack     MatchKind = "season-pack"
	MatchEpisode        MatchKind = "episode"
)

// Match is an accepted candidate with the gap content it would fill.
type Match struct {
	Candidate      domain.Candidate
	Classification classifier.Classification
	Kind           MatchKind
	Seasons        []int
	Episode        int
	Priority       int
}

func (m Match) firstSeason() int {
	if len(m.Seasons) == 0 {
		return 0
	}
	return m.Seasons[0]
}

// Scope converts the match into the download scope persisted on the job.
func (m Match) Scope() (domain.DownloadScope, []int, []domain.EpisodeRef) {
	if m.Kind == MatchEpisode {
		return domain.ScopeEpisodes, nil, []domain.EpisodeRef{{Season: m.firstSeason(), Episode: m.Episode}}
	}
	return domain.ScopeSeasons, append([]int(nil), m.Seasons...), nil
}

type Selector struct {
	classifier *classifier.Classifier
	log        *logrus.Logger
}

func New(c *classifier.Classifier, log *logrus.Logger) *Selector {
	return &Selector{classifier: c, log: log}
}

// Select classifies every candidate against show and returns the match that
// best fills the gaps in analysis, or nil when none qualifies.
func (s *Selector) Select(candidates []domain.Candidate, show string, analysis gaps.Analysis) *Match {
	var matches []Match
	for _, c := range candidates {
		cls := s.classifier.Classify(c.Title, show)
		match, ok := Score(c, cls, analysis)
		if !ok {
			continue
		}
		matches = append(matches, match)
	}
	if len(matches) == 0 {
		return nil
	}

	Sort(matches)
	best := matches[0]
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"title":    best.Candidate.Title,
			"kind":     best.Kind,
			"seasons":  best.Seasons,
			"priority": best.Priority,
			"accepted": len(matches),
		}).Debug("selected candidate")
	}
	return &best
}

// Sort orders matches by priority, then earliest season and episode, then seeders.
func Sort(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.firstSeason() != b.firstSeason() {
			return a.firstSeason() < b.firstSeason()
		}
		if a.Episode != b.Episode {
			return a.Episode < b.Episode
		}
		return a.Candidate.Seeders > b.Candidate.Seeders
	})
}

// Score evaluates one classified candidate against the gaps. It reports false
// when the candidate would not fill any gap.
func Score(c domain.Candidate, cls classifier.Classification, analysis gaps.Analysis) (Match, bool) {
	if cls.Confidence < MinConfidence {
		return Match{}, false
	}
	missing := sortedCopy(analysis.MissingSeasons)
	match := Match{Candidate: c, Classification: cls}

	switch cls.Type {
	case classifier.TypeCompleteSeries:
		if len(missing) == 0 {
			return Match{}, false
		}
		bonus := completeSeriesBonusMax - completeSeriesDecay*(missing[0]-1)
		match.Kind = MatchCompleteSeries
		match.Seasons = missing
		match.Priority = priorityCompleteSeries + max(bonus, 0)

	case classifier.TypeMultiSeason:
		covered := intersect(cls.Seasons, missing)
		switch {
		case len(covered) > 1:
			match.Kind = MatchMultiSeason
			match.Priority = priorityMultiSeason + multiSeasonStep*len(covered) + seasonBonus(missing, covered[0])
		case len(covered) == 1:
			match.Kind = MatchSeasonPack
			match.Priority = prioritySingleOfRange + seasonBonus(missing, covered[0])
		default:
			return Match{}, false
		}
		match.Seasons = covered

	case classifier.TypeSeasonPack:
		if !analysis.IsMissing(cls.Season) {
			return Match{}, false
		}
		match.Kind = MatchSeasonPack
		match.Seasons = []int{cls.Season}
		match.Priority = prioritySeasonPack + seasonBonus(missing, cls.Season)

	case classifier.TypeEpisode:
		gap, ok := analysis.Season(cls.Season)
		if !ok {
			return Match{}, false
		}
		_, incomplete := analysis.Incomplete(cls.Season)
		rank := indexOf(gap.MissingEpisodes, cls.Episode)
		switch {
		case analysis.IsMissing(cls.Season):
		case incomplete && rank >= 0:
		default:
			return Match{}, false
		}
		episodeBonus := 0
		if rank >= 0 {
			episodeBonus = max(episodeBonusMax-episodeBonusStep*rank, 0)
		}
		match.Kind = MatchEpisode
		match.Seasons = []int{cls.Season}
		match.Episode = cls.Episode
		// only missing seasons earn a season bonus
		match.Priority = priorityEpisode + seasonBonus(missing, cls.Season) + episodeBonus

	default:
		return Match{}, false
	}
	return match, true
}

// seasonBonus favors earlier gaps: the earliest ranked season gets the full
// bonus, decreasing per rank and floored at zero.
func seasonBonus(ranked []int, season int) int {
	rank := indexOf(ranked, season)
	if rank < 0 {
		return 0
	}
	return max(seasonBonusMax-seasonBonusStep*rank, 0)
}

func intersect(a, b []int) []int {
	var out []int
	for _, v := range a {
		if indexOf(b, v) >= 0 {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

func sortedCopy(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	return out
}

func indexOf(list []int, v int) int {
	for i, n := range list {
		if n == v {
			return i
		}
	}
	return -1
}
