package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"media-acquirer/internal/catalog"
	"media-acquirer/internal/classifier"
	"media-acquirer/internal/domain"
	"media-acquirer/internal/downloader"
	"media-acquirer/internal/gaps"
	"media-acquirer/internal/indexer"
	"media-acquirer/internal/metrics"
	"media-acquirer/internal/ranking"
	"media-acquirer/internal/repository"
	"media-acquirer/internal/selector"
	"media-acquirer/internal/statemachine"
)

// Sweep names used for logging, metrics and the scheduler.
const (
	SweepSearch   = "search"
	SweepDownload = "download"
	SweepContent  = "content"
	SweepExpiry   = "expiry"
)

const (
	reasonExhausted       = "search attempts exhausted"
	reasonNoCandidate     = "no suitable candidate"
	reasonCancelled       = "cancelled by user"
	reasonExpired         = "request expired"
	reasonReactivated     = "reactivated by user"
	reasonMoreContent     = "waiting for more content"
	reasonAwaitingRelease = "caught up, awaiting new episodes"
	defaultFailure        = "download failed"
	defaultInterval       = time.Hour
	defaultMaxQueries     = 6
	defaultPollWorkers    = 4
)

var (
	// ErrSelectionNotAllowed is returned when a request cannot take a manual selection in its current status.
	ErrSelectionNotAllowed = errors.New("candidate selection not allowed in current status")
	// ErrNothingToReactivate is returned when a request is neither stopped nor out of search attempts.
	ErrNothingToReactivate = errors.New("request has nothing to reactivate")
)

// Releases answers release questions and exposes the cached episode lists
// used to populate seasons.
type Releases interface {
	gaps.ReleaseChecker
	Episodes(ctx context.Context, catalogID string, season int) ([]catalog.EpisodeInfo, error)
	Refresh(catalogID string)
}

// Organizer files a completed download.
type Organizer interface {
	Organize(ctx context.Context, req *domain.Request, localPath string) (string, error)
}

// Config tunes the orchestrator. Zero values fall back to defaults.
type Config struct {
	// DefaultSearchInterval applies to requests without their own interval.
	DefaultSearchInterval time.Duration
	// MaxQueries bounds the indexer queries issued per TV search.
	MaxQueries int
	// PollConcurrency bounds concurrent download polls.
	PollConcurrency int
	// RequestLifetime renews the expiry of a TV request that returns to
	// PENDING after a successful download. Zero keeps the request's original
	// lifetime.
	RequestLifetime time.Duration
	// Indexers restricts searches to the named indexers when non-empty.
	Indexers []string
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Requests  repository.RequestRepository
	Seasons   repository.SeasonRepository
	Results   repository.SearchResultRepository
	Indexer   indexer.Searcher
	Catalog   catalog.Catalog
	Releases  Releases
	Engine    downloader.Engine
	Organizer Organizer
}

// Orchestrator advances requests through their lifecycle. It owns the pure
// decision components and executes the actions they emit against storage
// and the download engine.
type Orchestrator struct {
	deps Deps
	cfg  Config

	machine    *statemachine.Machine
	analyzer   *gaps.Analyzer
	classifier *classifier.Classifier
	selector   *selector.Selector
	ranker     *ranking.Ranker
	aggregator *downloader.Aggregator

	log     *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultSearchInterval <= 0 {
		cfg.DefaultSearchInterval = defaultInterval
	}
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = defaultMaxQueries
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = defaultPollWorkers
	}

	cls := classifier.New()
	return &Orchestrator{
		deps:       deps,
		cfg:        cfg,
		machine:    statemachine.NewRequestMachine(),
		analyzer:   gaps.NewAnalyzer(deps.Releases, cfg.Logger),
		classifier: cls,
		selector:   selector.New(cls, cfg.Logger),
		ranker:     ranking.NewRanker(cfg.Logger).WithClock(cfg.Now),
		aggregator: downloader.NewAggregator(deps.Engine, cfg.Logger),
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}
}

// Sweeps returns the named sweep functions for the scheduler.
func (o *Orchestrator) Sweeps() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		SweepSearch:   o.SearchSweep,
		SweepDownload: o.DownloadPoll,
		SweepContent:  o.ContentSweep,
		SweepExpiry:   o.ExpirySweep,
	}
}

// RunAll runs every sweep once, in lifecycle order.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	var errs []error
	for _, sweep := range []func(context.Context) error{o.ExpirySweep, o.ContentSweep, o.SearchSweep, o.DownloadPoll} {
		if err := sweep(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) interval(req *domain.Request) time.Duration {
	if req.Search.IntervalMinutes > 0 {
		return time.Duration(req.Search.IntervalMinutes) * time.Minute
	}
	return o.cfg.DefaultSearchInterval
}

func (o *Orchestrator) requestLog(req *domain.Request) *logrus.Entry {
	return o.log.WithFields(logrus.Fields{"request_id": req.ID, "status": req.Status})
}
