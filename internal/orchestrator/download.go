package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/downloader"
	"media-acquirer/internal/repository"
	"media-acquirer/internal/statemachine"
)

// DownloadPoll aggregates the engine state of every DOWNLOADING request and
// records progress, completion or failure. Requests are polled concurrently
// and independently.
func (o *Orchestrator) DownloadPoll(ctx context.Context) error {
	reqs, err := o.deps.Requests.List(ctx, repository.RequestFilter{
		Statuses: []domain.RequestStatus{domain.StatusDownloading},
	})
	if err != nil {
		return fmt.Errorf("list downloading requests: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.PollConcurrency)
	for i := range reqs {
		req := &reqs[i]
		g.Go(func() error {
			if err := o.pollDownload(ctx, req); err != nil {
				o.requestLog(req).WithError(err).Warn("download poll")
			}
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) pollDownload(ctx context.Context, req *domain.Request) error {
	if req.Download == nil || req.Download.RootJobID == "" {
		return o.resubmit(ctx, req)
	}

	progress, err := o.aggregator.Aggregate(ctx, req.Download.RootJobID)
	if errors.Is(err, downloader.ErrJobNotFound) {
		return o.resubmit(ctx, req)
	}
	if err != nil {
		// engine unavailable; nothing new this cycle
		o.requestLog(req).WithError(err).Debug("download status unavailable")
		return nil
	}

	switch {
	case progress.Failed:
		return o.failDownload(ctx, req, progress.ErrorMessage)
	case progress.Complete:
		return o.completeDownload(ctx, req, progress)
	}

	now := o.now().UTC()
	req.Progress = domain.DownloadProgress{
		Percent:        progress.Percent,
		TotalBytes:     progress.TotalBytes,
		CompletedBytes: progress.CompletedBytes,
		Speed:          progress.Speed,
		ETA:            progress.ETA,
		UpdatedAt:      &now,
	}
	if progress.LocalPath != "" {
		req.Download.LocalPath = progress.LocalPath
	}
	req.UpdatedAt = now
	return o.deps.Requests.Update(ctx, req)
}

// resubmit re-creates a job the engine no longer knows about, for example
// after an engine restart.
func (o *Orchestrator) resubmit(ctx context.Context, req *domain.Request) error {
	if req.Found == nil || req.Found.Locator() == "" {
		return o.failDownload(ctx, req, "download job lost")
	}

	locator := req.Found.Locator()
	jobID, err := o.deps.Engine.Submit(ctx, locator)
	if err != nil {
		return fmt.Errorf("resubmit download: %w", err)
	}

	if req.Download == nil {
		req.Download = &domain.DownloadJob{Scope: domain.ScopeWhole, StartedAt: o.now().UTC()}
	}
	req.Download.RootJobID = jobID
	req.Download.Locator = locator
	req.UpdatedAt = o.now().UTC()
	o.requestLog(req).WithField("job_id", jobID).Info("download job resubmitted")
	return o.deps.Requests.Update(ctx, req)
}

func (o *Orchestrator) failDownload(ctx context.Context, req *domain.Request, message string) error {
	if message == "" {
		message = defaultFailure
	}
	if req.Kind == domain.KindTVShow {
		if err := o.propagate(ctx, req, domain.StatusFailed); err != nil {
			o.requestLog(req).WithError(err).Warn("propagate failure to episodes")
		}
	}
	meta := statemachine.ContextFor(req)
	meta.ErrorMessage = message
	return o.transition(ctx, req, domain.StatusFailed, meta, effects{reason: message})
}

// completeDownload confirms a finished job. TV requests re-check their gaps
// after propagation. A show that is still airing always returns to PENDING
// and waits for its next release; an ended show completes or fails with the
// remaining gap count.
func (o *Orchestrator) completeDownload(ctx context.Context, req *domain.Request, progress downloader.Progress) error {
	localPath := progress.LocalPath
	if localPath == "" {
		localPath = req.Download.LocalPath
	}
	req.Download.LocalPath = localPath
	now := o.now().UTC()

	meta := statemachine.ContextFor(req)
	meta.DownloadComplete = true
	to := domain.StatusCompleted
	fx := effects{
		reason: "download complete",
		progress: &domain.DownloadProgress{
			Percent:        100,
			TotalBytes:     progress.TotalBytes,
			CompletedBytes: progress.CompletedBytes,
			UpdatedAt:      &now,
		},
	}

	if req.Kind == domain.KindTVShow {
		if err := o.propagate(ctx, req, domain.StatusCompleted); err != nil {
			return err
		}
		analysis, err := o.analyzeShow(ctx, req)
		if err != nil {
			return err
		}
		switch {
		case req.IsOngoing:
			// an airing show never completes; it waits for its next release
			to = domain.StatusPending
			meta.NeedsMoreContent = true
			fx.reason = reasonAwaitingRelease
			if analysis.NeedsMoreContent() {
				fx.reason = reasonMoreContent
			}
		case !analysis.NeedsMoreContent():
		default:
			to = domain.StatusFailed
			fx.reason = fmt.Sprintf("partial content: %d gaps remain", analysis.GapCount())
		}
	}

	if err := o.transition(ctx, req, to, meta, fx); err != nil {
		return err
	}
	o.organize(ctx, req, localPath)
	return nil
}

// organize files the completed download. Failures never undo the transition.
func (o *Orchestrator) organize(ctx context.Context, req *domain.Request, localPath string) {
	if o.deps.Organizer == nil {
		return
	}
	dest, err := o.deps.Organizer.Organize(ctx, req, localPath)
	logger := o.log.WithFields(logrus.Fields{"request_id": req.ID, "path": localPath})
	if err != nil {
		logger.WithError(err).Warn("organize download")
		return
	}
	logger.WithField("destination", dest).Debug("download organized")
}

// propagate applies a finished download's status to the seasons and episodes
// it covered.
func (o *Orchestrator) propagate(ctx context.Context, req *domain.Request, status domain.RequestStatus) error {
	if req.Download == nil {
		return nil
	}
	seasons, err := o.deps.Seasons.ListByRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("list seasons: %w", err)
	}

	for _, outcome := range o.outcomes(ctx, req, seasons, status) {
		state := statemachine.ApplyOutcome(seasons, outcome, req.IsOngoing)
		if !state.Changed() {
			continue
		}
		if err := o.persistShowState(ctx, state); err != nil {
			return err
		}
		if seasons, err = o.deps.Seasons.ListByRequest(ctx, req.ID); err != nil {
			return fmt.Errorf("list seasons: %w", err)
		}
	}
	return nil
}

// outcomes lists what the download covered. A completed pack of a season
// that is still airing only covers its released episodes. A completed whole
// download, which the classifier could not place, covers every requested
// season; its failure leaves the episodes alone.
func (o *Orchestrator) outcomes(ctx context.Context, req *domain.Request, seasons []domain.TvShowSeason, status domain.RequestStatus) []statemachine.Outcome {
	job := req.Download
	var out []statemachine.Outcome
	numbers := job.Seasons
	switch job.Scope {
	case domain.ScopeEpisodes:
		for _, ref := range job.Episodes {
			out = append(out, statemachine.Outcome{Season: ref.Season, Episode: ref.Episode, Status: status})
		}
		return out
	case domain.ScopeSeasons:
	case domain.ScopeWhole:
		if status != domain.StatusCompleted {
			return nil
		}
		numbers = make([]int, 0, len(seasons))
		for _, season := range seasons {
			numbers = append(numbers, season.SeasonNumber)
		}
	default:
		o.requestLog(req).Debug("download scope unknown, episode statuses left unchanged")
		return nil
	}

	for _, number := range numbers {
		if status != domain.StatusCompleted || o.deps.Releases.SeasonAired(ctx, req.CatalogID(), number) {
			out = append(out, statemachine.Outcome{Season: number, Status: status})
			continue
		}
		for _, season := range seasons {
			if season.SeasonNumber != number {
				continue
			}
			if len(season.Episodes) == 0 {
				out = append(out, statemachine.Outcome{Season: number, Status: status})
			}
			for _, ep := range season.Episodes {
				if o.deps.Releases.EpisodeReleased(ctx, req.CatalogID(), number, ep.EpisodeNumber) {
					out = append(out, statemachine.Outcome{Season: number, Episode: ep.EpisodeNumber, Status: status})
				}
			}
		}
	}
	return out
}
