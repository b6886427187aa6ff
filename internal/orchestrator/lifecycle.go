package orchestrator

import (
	"context"
	"fmt"
	"time"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/repository"
	"media-acquirer/internal/statemachine"
)

// ExpirySweep moves every request past its expiry time to EXPIRED when the
// transition table allows it. Running downloads are left to finish.
func (o *Orchestrator) ExpirySweep(ctx context.Context) error {
	reqs, err := o.deps.Requests.List(ctx, repository.RequestFilter{
		Statuses: []domain.RequestStatus{
			domain.StatusPending, domain.StatusSearching, domain.StatusFound, domain.StatusFailed,
		},
	})
	if err != nil {
		return fmt.Errorf("list expirable requests: %w", err)
	}

	now := o.now()
	for i := range reqs {
		req := &reqs[i]
		if req.Search.ExpiresAt.IsZero() || req.Search.ExpiresAt.After(now) {
			continue
		}
		if err := o.transition(ctx, req, domain.StatusExpired, statemachine.ContextFor(req), effects{reason: reasonExpired}); err != nil {
			o.requestLog(req).WithError(err).Warn("expire request")
		}
	}
	return nil
}

// Cancel stops a request. The engine job is cancelled on a best-effort basis;
// the local transition always proceeds.
func (o *Orchestrator) Cancel(ctx context.Context, id int64) (*domain.Request, error) {
	req, err := o.deps.Requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.transition(ctx, req, domain.StatusCancelled, statemachine.ContextFor(req), effects{reason: reasonCancelled}); err != nil {
		return nil, err
	}
	return req, nil
}

// Reactivate re-arms a stopped or exhausted request. CANCELLED requests
// return to PENDING, EXPIRED ones go straight to SEARCHING and are picked up
// by the next search sweep. Expired or exhausted budgets are renewed.
func (o *Orchestrator) Reactivate(ctx context.Context, id int64, lifetime time.Duration) (*domain.Request, error) {
	req, err := o.deps.Requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	renew := func(r *domain.Request) {
		if r.Search.Exhausted() || r.Status == domain.StatusExpired {
			r.Search.Attempts = 0
		}
		if lifetime > 0 && !r.Search.ExpiresAt.After(now) {
			r.Search.ExpiresAt = now.Add(lifetime)
		}
	}

	switch req.Status {
	case domain.StatusCancelled, domain.StatusExpired:
		to := domain.StatusPending
		if req.Status == domain.StatusExpired {
			to = domain.StatusSearching
		}
		candidate := *req
		renew(&candidate)
		if err := o.transition(ctx, &candidate, to, statemachine.ContextFor(&candidate), effects{reason: reasonReactivated}); err != nil {
			return nil, err
		}
		return &candidate, nil

	case domain.StatusPending, domain.StatusFailed:
		if !req.Search.Exhausted() {
			return nil, ErrNothingToReactivate
		}
		renew(req)
		req.StatusReason = reasonReactivated
		req.Search.NextSearchAt = &now
		req.UpdatedAt = now
		if err := o.deps.Requests.Update(ctx, req); err != nil {
			return nil, err
		}
		o.requestLog(req).Info("search budget renewed")
		return req, nil
	}
	return nil, ErrNothingToReactivate
}

// SelectCandidate manually picks a persisted search result and starts its
// download. PENDING and FAILED requests spend a search attempt on the way.
func (o *Orchestrator) SelectCandidate(ctx context.Context, requestID, resultID int64) (*domain.Request, error) {
	req, err := o.deps.Requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	result, err := o.deps.Results.Get(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if result.RequestID != requestID {
		return nil, fmt.Errorf("result %d: %w", resultID, repository.ErrNotFound)
	}

	switch req.Status {
	case domain.StatusPending, domain.StatusFailed, domain.StatusSearching, domain.StatusFound:
	default:
		return nil, fmt.Errorf("%w: %s", ErrSelectionNotAllowed, req.Status)
	}

	found := result.Candidate().Snapshot()
	fx := o.scopeOf(ctx, req, result.Candidate())
	fx.candidate = &found
	fx.reason = "manually selected " + found.Title

	if req.Status == domain.StatusPending || req.Status == domain.StatusFailed {
		if err := o.transition(ctx, req, domain.StatusSearching, statemachine.ContextFor(req), effects{reason: fx.reason}); err != nil {
			return nil, err
		}
	}

	if req.Status == domain.StatusFound {
		// replace the pending choice in place
		req.Found = &found
		req.StatusReason = fx.reason
		req.UpdatedAt = o.now().UTC()
		if err := o.deps.Requests.Update(ctx, req); err != nil {
			return nil, err
		}
	} else if err := o.transition(ctx, req, domain.StatusFound, statemachine.ContextFor(req), fx); err != nil {
		return nil, err
	}

	// the flag follows the persisted choice
	if err := o.deps.Results.MarkSelected(ctx, requestID, resultID); err != nil {
		return nil, fmt.Errorf("mark selected: %w", err)
	}

	if err := o.startDownload(ctx, req, fx); err != nil {
		o.requestLog(req).WithError(err).Warn("start download after manual selection")
	}
	return req, nil
}
