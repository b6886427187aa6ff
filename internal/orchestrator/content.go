package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/gaps"
	"media-acquirer/internal/repository"
	"media-acquirer/internal/statemachine"
)

var errNoCatalogID = errors.New("tv request has no catalog id")

// ContentSweep refreshes catalog data for active TV requests so newly aired
// episodes become gaps.
func (o *Orchestrator) ContentSweep(ctx context.Context) error {
	reqs, err := o.deps.Requests.List(ctx, repository.RequestFilter{
		Kinds: []domain.ContentKind{domain.KindTVShow},
		Statuses: []domain.RequestStatus{
			domain.StatusPending, domain.StatusFailed, domain.StatusSearching,
			domain.StatusFound, domain.StatusDownloading,
		},
	})
	if err != nil {
		return fmt.Errorf("list tv requests: %w", err)
	}

	for i := range reqs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req := &reqs[i]
		if o.deps.Releases != nil && req.CatalogID() != "" {
			o.deps.Releases.Refresh(req.CatalogID())
		}
		if err := o.populateSeasons(ctx, req); err != nil {
			o.requestLog(req).WithError(err).Warn("content sweep")
		}
	}
	return nil
}

// analyzeShow loads the request's seasons, populating them from the catalog
// on first use, and runs the gap analysis.
func (o *Orchestrator) analyzeShow(ctx context.Context, req *domain.Request) (gaps.Analysis, error) {
	seasons, err := o.deps.Seasons.ListByRequest(ctx, req.ID)
	if err != nil {
		return gaps.Analysis{}, fmt.Errorf("list seasons: %w", err)
	}
	if len(seasons) == 0 {
		if err := o.populateSeasons(ctx, req); err != nil {
			return gaps.Analysis{}, err
		}
		if seasons, err = o.deps.Seasons.ListByRequest(ctx, req.ID); err != nil {
			return gaps.Analysis{}, fmt.Errorf("list seasons: %w", err)
		}
	}
	req.TvSeasons = seasons
	return o.analyzer.Analyze(ctx, req, seasons), nil
}

// populateSeasons upserts the requested seasons and their episodes from the
// catalog, records show totals and re-derives season statuses.
func (o *Orchestrator) populateSeasons(ctx context.Context, req *domain.Request) error {
	if req.CatalogID() == "" {
		return errNoCatalogID
	}
	show, err := o.deps.Catalog.Show(ctx, req.CatalogID())
	if err != nil {
		return fmt.Errorf("catalog show: %w", err)
	}

	logger := o.requestLog(req)
	var (
		seasonCount int
		upserted    int
	)
	for _, info := range show.Seasons {
		if info.Number <= 0 {
			continue
		}
		seasonCount++
		if !req.WantsSeason(info.Number) {
			continue
		}

		total := info.EpisodeCount
		season := &domain.TvShowSeason{
			RequestID:     req.ID,
			SeasonNumber:  info.Number,
			TotalEpisodes: &total,
			Status:        domain.StatusPending,
			AirDate:       info.AirDate,
		}
		if err := o.deps.Seasons.UpsertSeason(ctx, season); err != nil {
			return fmt.Errorf("upsert season %d: %w", info.Number, err)
		}

		episodes, err := o.deps.Releases.Episodes(ctx, req.CatalogID(), info.Number)
		if err != nil {
			logger.WithField("season", info.Number).WithError(err).Warn("season episodes unavailable")
			continue
		}
		for _, ep := range episodes {
			if ep.Number <= 0 {
				continue
			}
			if err := o.deps.Seasons.UpsertEpisode(ctx, &domain.TvShowEpisode{
				SeasonID:      season.ID,
				EpisodeNumber: ep.Number,
				Status:        domain.StatusPending,
				AirDate:       ep.AirDate,
				Title:         ep.Title,
			}); err != nil {
				return fmt.Errorf("upsert episode S%02dE%02d: %w", info.Number, ep.Number, err)
			}
		}
		upserted++
	}

	req.IsOngoing = show.Ongoing
	req.TotalSeasons = &seasonCount
	if show.TotalEpisodes > 0 {
		totalEpisodes := show.TotalEpisodes
		req.TotalEpisodes = &totalEpisodes
	}
	req.UpdatedAt = o.now().UTC()
	if err := o.deps.Requests.Update(ctx, req); err != nil {
		return fmt.Errorf("update show totals: %w", err)
	}

	seasons, err := o.deps.Seasons.ListByRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("list seasons: %w", err)
	}
	if err := o.persistShowState(ctx, statemachine.Evaluate(seasons, req.IsOngoing)); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{"seasons": upserted, "ongoing": show.Ongoing}).Debug("show content refreshed")
	return nil
}

func (o *Orchestrator) persistShowState(ctx context.Context, state statemachine.ShowState) error {
	for _, change := range state.EpisodeChanges {
		if err := o.deps.Seasons.UpdateEpisodeStatus(ctx, change.EpisodeID, change.To); err != nil {
			return fmt.Errorf("update episode S%02dE%02d: %w", change.SeasonNumber, change.EpisodeNumber, err)
		}
	}
	for _, change := range state.SeasonChanges {
		if err := o.deps.Seasons.UpdateSeasonStatus(ctx, change.SeasonID, change.To); err != nil {
			return fmt.Errorf("update season %d: %w", change.SeasonNumber, err)
		}
	}
	return nil
}
