package ranking

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"media-acquirer/internal/domain"
)

const (
	maxSwarmScore     = 50
	preferredQualityX = 1.5
	preferredFormatX  = 1.3
	trustedBonus      = 20
	oversizePenalty   = -10
	sweetSpotBonus    = 5
	maxRecencyBonus   = 10
	recencyWindow     = 30 * 24 * time.Hour
	oversizeThreshold = 50 * humanize.GByte
	sweetSpotMinBytes = 1 * humanize.GByte
	sweetSpotMaxBytes = 10 * humanize.GByte
)

var publishLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Scored is a candidate that passed the hard filters.
type Scored struct {
	Candidate domain.Candidate
	Quality   string
	Format    string
	Score     float64
}

type Ranker struct {
	now func() time.Time
	log *logrus.Logger
}

func NewRanker(log *logrus.Logger) *Ranker {
	return &Ranker{now: time.Now, log: log}
}

// WithClock replaces the time source used for the recency bonus.
func (r *Ranker) WithClock(now func() time.Time) *Ranker {
	r.now = now
	return r
}

// Rank drops candidates failing the hard filters and returns the rest by
// descending score.
func (r *Ranker) Rank(candidates []domain.Candidate, policy domain.SelectionPolicy) []Scored {
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		c = Enrich(c)
		if reason := Reject(c, policy); reason != "" {
			if r.log != nil {
				r.log.WithFields(logrus.Fields{"title": c.Title, "reason": reason}).Debug("candidate filtered")
			}
			continue
		}
		out = append(out, r.Score(c, policy))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Enrich fills in byte size, quality and format when the indexer left them empty.
func Enrich(c domain.Candidate) domain.Candidate {
	if c.SizeBytes == 0 && c.Size != "" {
		if n, err := humanize.ParseBytes(c.Size); err == nil {
			c.SizeBytes = int64(n)
		}
	}
	if c.Quality == "" {
		c.Quality = DetectQuality(c.Title)
	} else {
		c.Quality = canonical(qualityMarkers, c.Quality)
	}
	if c.Format == "" {
		c.Format = DetectFormat(c.Title)
	} else {
		c.Format = canonical(formatMarkers, c.Format)
	}
	return c
}

// Reject returns why c fails policy's hard filters, or "" when it passes.
// c must already be enriched.
func Reject(c domain.Candidate, policy domain.SelectionPolicy) string {
	if c.Seeders < policy.MinSeeders {
		return "below minimum seeders"
	}
	if policy.MaxSizeBytes > 0 && c.SizeBytes > policy.MaxSizeBytes {
		return "exceeds maximum size " + humanize.Bytes(uint64(policy.MaxSizeBytes))
	}
	lower := strings.ToLower(c.Title)
	for _, word := range policy.BlacklistWords {
		if word != "" && strings.Contains(lower, strings.ToLower(word)) {
			return "blacklisted word " + word
		}
	}
	if len(policy.PreferredQualities) > 0 && !inList(qualityMarkers, policy.PreferredQualities, c.Quality) {
		return "quality not preferred"
	}
	if len(policy.PreferredFormats) > 0 && !inList(formatMarkers, policy.PreferredFormats, c.Format) {
		return "format not preferred"
	}
	return ""
}

// Score computes the additive desirability score of an enriched candidate.
func (r *Ranker) Score(c domain.Candidate, policy domain.SelectionPolicy) Scored {
	score := SwarmScore(c.Seeders)

	if base, ok := qualityScores[c.Quality]; ok {
		if inList(qualityMarkers, policy.PreferredQualities, c.Quality) {
			base *= preferredQualityX
		}
		score += base
	}
	if base, ok := formatScores[c.Format]; ok {
		if inList(formatMarkers, policy.PreferredFormats, c.Format) {
			base *= preferredFormatX
		}
		score += base
	}
	for _, trusted := range policy.TrustedIndexers {
		if strings.EqualFold(trusted, c.Indexer) {
			score += trustedBonus
			break
		}
	}
	score += sizeAdjustment(c.SizeBytes)
	score += r.recencyBonus(c.PublishDate)

	return Scored{Candidate: c, Quality: c.Quality, Format: c.Format, Score: score}
}

// SwarmScore grows logarithmically with seeders and caps at 50.
func SwarmScore(seeders int) float64 {
	if seeders < 0 {
		seeders = 0
	}
	return math.Min(math.Log10(float64(seeders)+1)*10, maxSwarmScore)
}

func sizeAdjustment(size int64) float64 {
	switch {
	case size > oversizeThreshold:
		return oversizePenalty
	case size >= sweetSpotMinBytes && size <= sweetSpotMaxBytes:
		return sweetSpotBonus
	}
	return 0
}

func (r *Ranker) recencyBonus(published string) float64 {
	if published == "" {
		return 0
	}
	var (
		at  time.Time
		err error
	)
	for _, layout := range publishLayouts {
		if at, err = time.Parse(layout, published); err == nil {
			break
		}
	}
	if err != nil {
		return 0
	}
	age := r.now().Sub(at)
	if age < 0 {
		age = 0
	}
	if age >= recencyWindow {
		return 0
	}
	return maxRecencyBonus * (1 - float64(age)/float64(recencyWindow))
}

func inList(markers []marker, list []string, value string) bool {
	if value == "" {
		return false
	}
	for _, v := range list {
		if canonical(markers, v) == value {
			return true
		}
	}
	return false
}
