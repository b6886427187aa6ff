package catalog

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ReleaseBuffer is how long after its air date an episode counts as released.
const ReleaseBuffer = 24 * time.Hour

// ReleaseValidator answers "is it out yet" questions from cached catalog data.
// Lookup failures count as not released.
type ReleaseValidator struct {
	catalog Catalog
	cache   *ReleaseCache
	now     func() time.Time
	log     *logrus.Logger
}

func NewReleaseValidator(catalog Catalog, cache *ReleaseCache, now func() time.Time, log *logrus.Logger) *ReleaseValidator {
	if now == nil {
		now = time.Now
	}
	return &ReleaseValidator{catalog: catalog, cache: cache, now: now, log: log}
}

func (v *ReleaseValidator) EpisodeReleased(ctx context.Context, catalogID string, season, episode int) bool {
	episodes, ok := v.episodes(ctx, catalogID, season)
	if !ok {
		return false
	}
	for _, ep := range episodes {
		if ep.Number == episode {
			return v.released(ep.AirDate)
		}
	}
	return false
}

// SeasonAired reports whether every known episode of season is released.
func (v *ReleaseValidator) SeasonAired(ctx context.Context, catalogID string, season int) bool {
	episodes, ok := v.episodes(ctx, catalogID, season)
	if !ok || len(episodes) == 0 {
		return false
	}
	for _, ep := range episodes {
		if !v.released(ep.AirDate) {
			return false
		}
	}
	return true
}

// Episodes returns the season's episode list, cached.
func (v *ReleaseValidator) Episodes(ctx context.Context, catalogID string, season int) ([]EpisodeInfo, error) {
	if episodes, ok := v.cache.Get(catalogID, season); ok {
		return episodes, nil
	}
	episodes, err := v.catalog.SeasonEpisodes(ctx, catalogID, season)
	if err != nil {
		return nil, err
	}
	v.cache.Put(catalogID, season, episodes)
	return episodes, nil
}

// Refresh forgets cached data for catalogID.
func (v *ReleaseValidator) Refresh(catalogID string) {
	v.cache.Invalidate(catalogID)
}

func (v *ReleaseValidator) episodes(ctx context.Context, catalogID string, season int) ([]EpisodeInfo, bool) {
	if catalogID == "" {
		return nil, false
	}
	episodes, err := v.Episodes(ctx, catalogID, season)
	if err != nil {
		if v.log != nil {
			v.log.WithFields(logrus.Fields{"catalog_id": catalogID, "season": season}).
				Warnf("release lookup failed, treating as unreleased: %v", err)
		}
		return nil, false
	}
	return episodes, true
}

func (v *ReleaseValidator) released(airDate *time.Time) bool {
	if airDate == nil {
		return false
	}
	return !airDate.Add(ReleaseBuffer).After(v.now())
}
