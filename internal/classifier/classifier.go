package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/moistari/rls"
)

type ContentType string

const (
	TypeUnknown        ContentType = "unknown"
	TypeCompleteSeries ContentType = "complete-series"
	TypeMultiSeason    ContentType = "multi-season"
	TypeSeasonPack     ContentType = "season-pack"
	TypeEpisode        ContentType = "episode"
)

const (
	minSeason      = 1
	maxSeason      = 50
	minEpisode     = 1
	maxEpisode     = 100
	maxSeasonRange = 10
)

// Classification is the claim a release title makes about the content it covers.
type Classification struct {
	Type       ContentType
	Season     int   // season-pack and episode
	Episode    int   // episode only
	Seasons    []int // multi-season range; for complete-series only when the title names the range
	Confidence int
	Pattern    string
	Quality    Quality
}

// FirstSeason is the earliest season the classification covers, 0 when unknown.
func (c Classification) FirstSeason() int {
	switch c.Type {
	case TypeSeasonPack, TypeEpisode:
		return c.Season
	case TypeMultiSeason, TypeCompleteSeries:
		if len(c.Seasons) > 0 {
			return c.Seasons[0]
		}
	}
	return 0
}

type pattern struct {
	name       string
	kind       ContentType
	re         *regexp.Regexp
	confidence int
	build      func(m []string) (Classification, bool)
}

// patterns are evaluated in declaration order; that order breaks confidence ties.
var patterns = []pattern{
	{"complete series", TypeCompleteSeries, regexp.MustCompile(`\bcomplete series\b`), 95, completeSeries},
	{"all seasons", TypeCompleteSeries, regexp.MustCompile(`\ball seasons\b`), 90, completeSeries},
	// "seasons 1-N" loses to the 90-confidence "seasons N-M" range whenever the
	// range is valid, so it only classifies N >= 12 as a complete series.
	{"seasons 1-n", TypeCompleteSeries, regexp.MustCompile(`\bseasons? 0?1 ?(?:-|to) ?(\d{1,2})\b`), 80, seriesThrough},

	{"sNN-sNN", TypeMultiSeason, regexp.MustCompile(`\bs(\d{1,2}) ?- ?s(\d{1,2})\b`), 95, seasonRange},
	{"seasons N-M", TypeMultiSeason, regexp.MustCompile(`\bseasons? (\d{1,2}) ?(?:-|to|thru|through) ?(\d{1,2})\b`), 90, seasonRange},
	{"sNN-NN", TypeMultiSeason, regexp.MustCompile(`\bs(\d{1,2})-(\d{1,2})\b`), 85, seasonRange},

	{"season N complete", TypeSeasonPack, regexp.MustCompile(`\bseason (\d{1,2}) complete\b`), 95, seasonPack},
	{"sNN complete", TypeSeasonPack, regexp.MustCompile(`\bs(\d{1,2}) complete\b`), 90, seasonPack},
	{"sNN", TypeSeasonPack, regexp.MustCompile(`\bs(\d{1,2})\b`), 85, seasonPack},
	{"season N", TypeSeasonPack, regexp.MustCompile(`\bseason (\d{1,2})\b`), 85, seasonPack},
	{"Nth season", TypeSeasonPack, regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th) season\b`), 80, seasonPack},

	{"sNNeNN", TypeEpisode, regexp.MustCompile(`\bs(\d{1,2}) ?e(\d{1,3})`), 95, episode},
	{"season N episode M", TypeEpisode, regexp.MustCompile(`\bseason (\d{1,2}) episode (\d{1,3})\b`), 90, episode},
	{"NxNN", TypeEpisode, regexp.MustCompile(`\b(\d{1,2})x(\d{2,3})\b`), 85, episode},
}

// Classifier maps release titles onto content claims. It is stateless.
type Classifier struct{}

func New() *Classifier {
	return &Classifier{}
}

// Classify returns the highest-confidence claim title makes about show. A
// title that does not contain the show yields TypeUnknown at confidence 0.
func (c *Classifier) Classify(title, show string) Classification {
	if !containsShow(title, show) {
		return Classification{Type: TypeUnknown}
	}

	cleaned := cleanForPatterns(title)
	best := Classification{Type: TypeUnknown}
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(cleaned)
		if m == nil {
			continue
		}
		result, ok := p.build(m)
		if !ok {
			continue
		}
		if p.confidence > best.Confidence {
			result.Type = p.kind
			result.Confidence = p.confidence
			result.Pattern = p.name
			best = result
		}
	}

	best.Quality = ExtractQuality(title)
	return best
}

func completeSeries([]string) (Classification, bool) {
	return Classification{}, true
}

func seriesThrough(m []string) (Classification, bool) {
	end := atoi(m[1])
	if end <= minSeason || end > maxSeason {
		return Classification{}, false
	}
	return Classification{Seasons: seasonsBetween(minSeason, end)}, true
}

func seasonRange(m []string) (Classification, bool) {
	start, end := atoi(m[1]), atoi(m[2])
	if start < minSeason || end > maxSeason || start >= end || end-start > maxSeasonRange {
		return Classification{}, false
	}
	return Classification{Seasons: seasonsBetween(start, end)}, true
}

func seasonPack(m []string) (Classification, bool) {
	season := atoi(m[1])
	if season < minSeason || season > maxSeason {
		return Classification{}, false
	}
	return Classification{Season: season}, true
}

func episode(m []string) (Classification, bool) {
	season, ep := atoi(m[1]), atoi(m[2])
	if season < minSeason || season > maxSeason || ep < minEpisode || ep > maxEpisode {
		return Classification{}, false
	}
	return Classification{Season: season, Episode: ep}, true
}

func seasonsBetween(start, end int) []int {
	out := make([]int, 0, end-start+1)
	for s := start; s <= end; s++ {
		out = append(out, s)
	}
	return out
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Quality holds informational release markers.
type Quality struct {
	Resolution string
	HDR        []string
	Codec      []string
	Source     string
	Group      string
}

var groupSuffix = regexp.MustCompile(`(?:-([A-Za-z0-9]+)|\[([A-Za-z0-9 ._-]+)\])\s*$`)

// ExtractQuality parses resolution, HDR, codec and source markers with rls
// and the release group from a trailing -GROUP or [GROUP].
func ExtractQuality(title string) Quality {
	release := rls.ParseString(title)
	q := Quality{
		Resolution: release.Resolution,
		HDR:        release.HDR,
		Codec:      release.Codec,
		Source:     release.Source,
		Group:      ReleaseGroup(title),
	}
	if q.Group == "" {
		q.Group = release.Group
	}
	return q
}

// ReleaseGroup returns the trailing release group, or "" when absent.
func ReleaseGroup(title string) string {
	title = strings.TrimSpace(title)
	for _, ext := range []string{".mkv", ".mp4", ".avi", ".torrent"} {
		title = strings.TrimSuffix(title, ext)
	}
	m := groupSuffix.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return strings.TrimSpace(m[2])
}
