package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/statemachine"
)

// effects carries the inputs actions need beyond the request itself.
type effects struct {
	reason    string
	candidate *domain.FoundCandidate
	scope     domain.DownloadScope
	seasons   []int
	episodes  []domain.EpisodeRef
	// progress is the final progress recorded on completion
	progress *domain.DownloadProgress
}

// transition moves req to status to, executing the emitted actions on a copy
// and persisting it. req is only updated when everything succeeded.
func (o *Orchestrator) transition(ctx context.Context, req *domain.Request, to domain.RequestStatus, meta statemachine.Context, fx effects) error {
	from := req.Status
	err := o.apply(ctx, req, to, meta, fx)
	o.metrics.ObserveTransition(from, to, err)

	logger := o.log.WithFields(logrus.Fields{"request_id": req.ID, "from": from, "to": to})
	var terr *statemachine.TransitionError
	switch {
	case err == nil:
		logger.WithField("reason", fx.reason).Info("request transitioned")
	case errors.As(err, &terr):
		logger.WithField("reason", terr.Reason).Debug("transition rejected")
	default:
		logger.WithError(err).Warn("transition failed")
	}
	return err
}

func (o *Orchestrator) apply(ctx context.Context, req *domain.Request, to domain.RequestStatus, meta statemachine.Context, fx effects) error {
	from := req.Status
	actions, err := o.machine.Transition(statemachine.Transition{
		RequestID: req.ID,
		From:      from,
		To:        to,
		Context:   meta,
		Reason:    fx.reason,
	})
	if err != nil {
		return err
	}

	next := *req
	for _, action := range actions {
		if err := o.execute(ctx, &next, from, action, fx); err != nil {
			return fmt.Errorf("%s action %s: %w", action.Phase, action.Kind, err)
		}
	}
	next.Status = to
	next.StatusReason = fx.reason
	next.UpdatedAt = o.now().UTC()

	if err := o.deps.Requests.Update(ctx, &next); err != nil {
		if next.Download != nil && (req.Download == nil || next.Download.RootJobID != req.Download.RootJobID) {
			o.cancelJob(ctx, &next)
		}
		return fmt.Errorf("persist request %d: %w", req.ID, err)
	}
	*req = next
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, req *domain.Request, from domain.RequestStatus, action statemachine.Action, fx effects) error {
	now := o.now().UTC()
	switch action.Kind {
	case statemachine.ActionClearProgress:
		req.Progress = domain.DownloadProgress{}
	case statemachine.ActionClearFailure:
		req.FailureReason = ""
	case statemachine.ActionClearCancelled:
		req.CancelledAt = nil
	case statemachine.ActionClearExpired:
		req.ExpiredAt = nil

	case statemachine.ActionClearDownload:
		req.Download = nil
	case statemachine.ActionRearmSearch:
		// SEARCHING already scheduled the next attempt
		if from != domain.StatusSearching {
			req.Found = nil
			req.Search.NextSearchAt = &now
		}
		if from == domain.StatusDownloading {
			o.renewBudget(req, now)
		}

	case statemachine.ActionIncrementAttempts:
		req.Search.Attempts++
	case statemachine.ActionStampLastSearch:
		req.Search.LastSearchAt = &now
	case statemachine.ActionScheduleNextSearch, statemachine.ActionScheduleRetry:
		next := now.Add(o.interval(req))
		req.Search.NextSearchAt = &next

	case statemachine.ActionPersistCandidate:
		if fx.candidate == nil {
			return errors.New("no candidate to persist")
		}
		found := *fx.candidate
		req.Found = &found

	case statemachine.ActionCreateDownload:
		return o.createDownload(ctx, req, fx, now)

	case statemachine.ActionStampCompleted:
		req.CompletedAt = &now
		if fx.progress != nil {
			req.Progress = *fx.progress
		}
	case statemachine.ActionReleaseTempState:
		req.Progress.Speed = 0
		req.Progress.ETA = ""
		req.Search.NextSearchAt = nil

	case statemachine.ActionStampFailure:
		req.FailureReason = fx.reason
		if req.FailureReason == "" {
			req.FailureReason = defaultFailure
		}

	case statemachine.ActionCancelDownload:
		o.cancelJob(ctx, req)
	case statemachine.ActionStampCancelled:
		req.CancelledAt = &now
	case statemachine.ActionStampExpired:
		req.ExpiredAt = &now

	default:
		return fmt.Errorf("unknown action %q", action.Kind)
	}
	return nil
}

// renewBudget gives a request that delivered content and keeps waiting for
// more a fresh attempt budget and lifetime.
func (o *Orchestrator) renewBudget(req *domain.Request, now time.Time) {
	req.Search.Attempts = 0
	lifetime := o.cfg.RequestLifetime
	if lifetime <= 0 && !req.CreatedAt.IsZero() {
		lifetime = req.Search.ExpiresAt.Sub(req.CreatedAt)
	}
	if lifetime > 0 {
		req.Search.ExpiresAt = now.Add(lifetime)
	}
}

func (o *Orchestrator) createDownload(ctx context.Context, req *domain.Request, fx effects, now time.Time) error {
	if req.Found == nil {
		return errors.New("no candidate selected")
	}
	locator := req.Found.Locator()
	if locator == "" {
		return errors.New("selected candidate has no locator")
	}

	jobID, err := o.deps.Engine.Submit(ctx, locator)
	if err != nil {
		return fmt.Errorf("submit download: %w", err)
	}

	scope := fx.scope
	if scope == "" {
		scope = domain.ScopeWhole
	}
	req.Download = &domain.DownloadJob{
		Handle:    uuid.NewString(),
		RootJobID: jobID,
		Locator:   locator,
		Scope:     scope,
		Seasons:   append([]int(nil), fx.seasons...),
		Episodes:  append([]domain.EpisodeRef(nil), fx.episodes...),
		StartedAt: now,
	}
	req.Progress = domain.DownloadProgress{UpdatedAt: &now}
	return nil
}

// cancelJob asks the engine to drop the request's job. Failures are logged
// and never block the local transition.
func (o *Orchestrator) cancelJob(ctx context.Context, req *domain.Request) {
	if req.Download == nil || req.Download.RootJobID == "" {
		return
	}
	if err := o.deps.Engine.Cancel(ctx, req.Download.RootJobID); err != nil {
		o.log.WithFields(logrus.Fields{
			"request_id": req.ID,
			"job_id":     req.Download.RootJobID,
		}).WithError(err).Warn("cancel download job")
	}
}
