package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/gaps"
	"media-acquirer/internal/indexer"
	"media-acquirer/internal/ranking"
	"media-acquirer/internal/repository"
	"media-acquirer/internal/selector"
	"media-acquirer/internal/statemachine"
)

// searchOutcome is the result of one search pass for a request.
type searchOutcome struct {
	ranked []ranking.Scored
	chosen *domain.Candidate
	fx     effects
}

// SearchSweep searches every due PENDING or FAILED request, resumes
// SEARCHING requests interrupted by a restart and retries FOUND requests
// whose download could not be started.
func (o *Orchestrator) SearchSweep(ctx context.Context) error {
	reqs, err := o.deps.Requests.List(ctx, repository.RequestFilter{
		Statuses: []domain.RequestStatus{
			domain.StatusPending, domain.StatusFailed, domain.StatusSearching, domain.StatusFound,
		},
	})
	if err != nil {
		return fmt.Errorf("list searchable requests: %w", err)
	}

	for i := range reqs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req := &reqs[i]
		if err := o.advanceSearch(ctx, req); err != nil {
			o.requestLog(req).WithError(err).Warn("search sweep")
		}
	}
	return nil
}

func (o *Orchestrator) advanceSearch(ctx context.Context, req *domain.Request) error {
	switch req.Status {
	case domain.StatusFound:
		return o.startDownload(ctx, req, o.scopeFor(ctx, req))
	case domain.StatusSearching:
		return o.runSearch(ctx, req)
	}

	now := o.now()
	if req.Search.NextSearchAt != nil && req.Search.NextSearchAt.After(now) {
		return nil
	}
	if req.Search.Exhausted() {
		return o.markExhausted(ctx, req)
	}

	if req.Kind == domain.KindTVShow {
		analysis, err := o.analyzeShow(ctx, req)
		if err != nil {
			return err
		}
		if !analysis.NeedsMoreContent() {
			o.requestLog(req).Debug("no released content missing, skipping search")
			return nil
		}
	}

	err := o.transition(ctx, req, domain.StatusSearching, statemachine.ContextFor(req), effects{})
	if errors.Is(err, statemachine.ErrGuardRejected) {
		return o.markExhausted(ctx, req)
	}
	if err != nil {
		return err
	}
	return o.runSearch(ctx, req)
}

// markExhausted records that the attempt budget is spent. The status is kept;
// the expiry sweep or a reactivation moves the request on.
func (o *Orchestrator) markExhausted(ctx context.Context, req *domain.Request) error {
	if req.StatusReason == reasonExhausted {
		return nil
	}
	req.StatusReason = reasonExhausted
	req.UpdatedAt = o.now().UTC()
	o.requestLog(req).WithField("attempts", req.Search.Attempts).Info("search attempts exhausted")
	return o.deps.Requests.Update(ctx, req)
}

// runSearch performs the search for a SEARCHING request and moves it to
// FOUND and DOWNLOADING, or back to PENDING when nothing qualifies.
func (o *Orchestrator) runSearch(ctx context.Context, req *domain.Request) error {
	var (
		out searchOutcome
		err error
	)
	if req.Kind == domain.KindTVShow {
		out, err = o.searchShow(ctx, req)
	} else {
		out, err = o.searchTitle(ctx, req)
	}
	if err != nil {
		return o.transition(ctx, req, domain.StatusPending, statemachine.ContextFor(req), effects{
			reason: "search failed: " + err.Error(),
		})
	}

	if err := o.persistResults(ctx, req, out); err != nil {
		o.requestLog(req).WithError(err).Warn("persist search results")
	}

	if out.chosen == nil {
		return o.transition(ctx, req, domain.StatusPending, statemachine.ContextFor(req), effects{reason: reasonNoCandidate})
	}

	found := out.chosen.Snapshot()
	fx := out.fx
	fx.candidate = &found
	fx.reason = "selected " + found.Title
	if err := o.transition(ctx, req, domain.StatusFound, statemachine.ContextFor(req), fx); err != nil {
		return err
	}
	return o.startDownload(ctx, req, fx)
}

// startDownload moves a FOUND request to DOWNLOADING. A failed submit leaves
// the request in FOUND for the next sweep.
func (o *Orchestrator) startDownload(ctx context.Context, req *domain.Request, fx effects) error {
	fx.reason = ""
	if req.Found != nil {
		fx.reason = "downloading " + req.Found.Title
	}
	return o.transition(ctx, req, domain.StatusDownloading, statemachine.ContextFor(req), fx)
}

// searchTitle searches a movie or game and keeps the best ranked candidate.
func (o *Orchestrator) searchTitle(ctx context.Context, req *domain.Request) (searchOutcome, error) {
	query := indexer.Query{
		Term:       indexer.MovieQuery(req.Title, req.Year),
		Categories: indexer.CategoriesFor(req.Kind),
		Indexers:   o.cfg.Indexers,
	}
	candidates, err := o.deps.Indexer.Search(ctx, query)
	if err != nil {
		return searchOutcome{}, err
	}

	ranked := o.ranker.Rank(candidates, req.Selection)
	o.requestLog(req).WithFields(logrus.Fields{
		"query":      query.Term,
		"candidates": len(candidates),
		"accepted":   len(ranked),
	}).Debug("search finished")

	out := searchOutcome{ranked: ranked, fx: effects{scope: domain.ScopeWhole}}
	if len(ranked) > 0 {
		best := ranked[0].Candidate
		out.chosen = &best
	}
	return out, nil
}

// searchShow searches for the content gaps of a TV request and lets the
// selector pick the candidate that fills the most urgent one.
func (o *Orchestrator) searchShow(ctx context.Context, req *domain.Request) (searchOutcome, error) {
	analysis, err := o.analyzeShow(ctx, req)
	if err != nil {
		return searchOutcome{}, err
	}
	if !analysis.NeedsMoreContent() {
		return searchOutcome{}, nil
	}

	var (
		candidates []domain.Candidate
		seen       = map[string]bool{}
		failures   []error
		queries    = showQueries(req.Title, analysis, o.cfg.MaxQueries)
	)
	for _, term := range queries {
		results, err := o.deps.Indexer.Search(ctx, indexer.Query{
			Term:       term,
			Categories: indexer.CategoriesFor(req.Kind),
			Indexers:   o.cfg.Indexers,
		})
		if err != nil {
			o.requestLog(req).WithField("query", term).WithError(err).Warn("indexer query failed")
			failures = append(failures, err)
			continue
		}
		for _, c := range results {
			key := candidateKey(c)
			if seen[key] {
				continue
			}
			seen[key] = true
			candidates = append(candidates, c)
		}
	}
	if len(failures) == len(queries) && len(failures) > 0 {
		return searchOutcome{}, errors.Join(failures...)
	}

	ranked := o.ranker.Rank(candidates, req.Selection)
	pool := make([]domain.Candidate, len(ranked))
	for i, s := range ranked {
		pool[i] = s.Candidate
	}

	out := searchOutcome{ranked: ranked}
	match := o.selector.Select(pool, req.Title, analysis)
	if match == nil {
		return out, nil
	}
	chosen := match.Candidate
	out.chosen = &chosen
	out.fx.scope, out.fx.seasons, out.fx.episodes = match.Scope()
	return out, nil
}

// showQueries turns the gap recommendations into indexer queries, most
// urgent first, without duplicates.
func showQueries(title string, analysis gaps.Analysis, limit int) []string {
	var (
		out  []string
		seen = map[string]bool{}
	)
	add := func(q string) {
		if !seen[q] && len(out) < limit {
			seen[q] = true
			out = append(out, q)
		}
	}
	for _, rec := range analysis.Recommendations {
		switch rec.Kind {
		case gaps.KindCompleteSeries:
			add(indexer.CompleteSeriesQuery(title))
		case gaps.KindMultiSeasonPack:
			add(title)
		case gaps.KindSeasonPack, gaps.KindSeasonRedownload:
			for _, s := range rec.Seasons {
				add(indexer.SeasonQuery(title, s))
			}
		case gaps.KindIndividualEpisodes:
			for _, s := range rec.Seasons {
				for _, e := range rec.Episodes {
					add(indexer.EpisodeQuery(title, s, e))
				}
			}
		}
	}
	return out
}

func candidateKey(c domain.Candidate) string {
	switch {
	case c.InfoHash != "":
		return "hash:" + strings.ToLower(c.InfoHash)
	case c.Magnet != "":
		return "magnet:" + c.Magnet
	case c.Link != "":
		return "link:" + c.Link
	}
	return "title:" + strings.ToLower(c.Title)
}

func (o *Orchestrator) persistResults(ctx context.Context, req *domain.Request, out searchOutcome) error {
	results := make([]domain.TorrentSearchResult, 0, len(out.ranked))
	now := o.now().UTC()
	selected := false
	for _, s := range out.ranked {
		c := s.Candidate
		isChosen := !selected && out.chosen != nil && candidateKey(c) == candidateKey(*out.chosen)
		selected = selected || isChosen
		results = append(results, domain.TorrentSearchResult{
			RequestID: req.ID,
			Title:     c.Title,
			Link:      c.Link,
			Magnet:    c.Magnet,
			Size:      c.Size,
			SizeBytes: c.SizeBytes,
			Seeders:   c.Seeders,
			Leechers:  c.Leechers,
			Indexer:   c.Indexer,
			Quality:   s.Quality,
			Format:    s.Format,
			Score:     s.Score,
			Selected:  isChosen,
			CreatedAt: now,
		})
	}
	return o.deps.Results.ReplaceForRequest(ctx, req.ID, results)
}

// scopeFor rebuilds the download scope of the persisted candidate for a
// FOUND request.
func (o *Orchestrator) scopeFor(ctx context.Context, req *domain.Request) effects {
	if req.Found == nil {
		return effects{scope: domain.ScopeWhole}
	}
	return o.scopeOf(ctx, req, domain.Candidate{Title: req.Found.Title, Seeders: req.Found.Seeders})
}

// scopeOf classifies c against the request's current gaps. Anything the
// selector would not accept downloads as a whole.
func (o *Orchestrator) scopeOf(ctx context.Context, req *domain.Request, c domain.Candidate) effects {
	fx := effects{scope: domain.ScopeWhole}
	if req.Kind != domain.KindTVShow {
		return fx
	}
	analysis, err := o.analyzeShow(ctx, req)
	if err != nil {
		return fx
	}
	if match, ok := selector.Score(c, o.classifier.Classify(c.Title, req.Title), analysis); ok {
		fx.scope, fx.seasons, fx.episodes = match.Scope()
	}
	return fx
}
