package downloader

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const maxChildLookups = 8

// Progress is the unified view of a root job and the content jobs it spawned.
type Progress struct {
	Complete       bool
	Failed         bool
	ErrorMessage   string
	TotalBytes     int64
	CompletedBytes int64
	Speed          int64
	Percent        int
	ETA            string
	Children       int
	ChildErrors    int
	Name           string
	LocalPath      string
}

type Aggregator struct {
	engine Engine
	log    *logrus.Logger
}

func NewAggregator(engine Engine, log *logrus.Logger) *Aggregator {
	return &Aggregator{engine: engine, log: log}
}

// Aggregate reports progress for rootID. Only the root lookup can fail the
// call; a failed child lookup is logged and left out of the totals.
func (a *Aggregator) Aggregate(ctx context.Context, rootID string) (Progress, error) {
	root, err := a.engine.Status(ctx, rootID)
	if err != nil {
		return Progress{}, fmt.Errorf("root job status: %w", err)
	}

	out := Progress{
		Children:  len(root.FollowedBy),
		Name:      root.Name,
		LocalPath: root.LocalPath,
	}
	if root.Status == JobError {
		out.Failed = true
		out.ErrorMessage = root.ErrorMessage
		out.ETA = etaUnknown
		return out, nil
	}

	if len(root.FollowedBy) == 0 {
		out.TotalBytes = root.TotalBytes
		out.CompletedBytes = root.CompletedBytes
		out.Speed = root.Speed
		out.Complete = root.Status == JobComplete
	} else {
		children := a.children(ctx, rootID, root.FollowedBy)
		allComplete := true
		for _, child := range children {
			if child == nil {
				out.ChildErrors++
				allComplete = false
				continue
			}
			out.TotalBytes += child.TotalBytes
			out.CompletedBytes += child.CompletedBytes
			out.Speed += child.Speed
			if child.Status != JobComplete {
				allComplete = false
			}
			if out.LocalPath == "" {
				out.LocalPath = child.LocalPath
			}
		}
		out.Complete = root.Status == JobComplete && allComplete
	}

	out.Percent = Percent(out.CompletedBytes, out.TotalBytes)
	if out.Complete {
		out.Speed = 0
	}
	out.ETA = FormatETA(out.TotalBytes-out.CompletedBytes, out.Speed, out.Complete)
	return out, nil
}

// children looks up every child concurrently; failed lookups come back nil.
// Each goroutine writes only its own slot.
func (a *Aggregator) children(ctx context.Context, rootID string, ids []string) []*JobState {
	var (
		states = make([]*JobState, len(ids))
		g      errgroup.Group
	)
	g.SetLimit(maxChildLookups)

	for i, id := range ids {
		g.Go(func() error {
			state, err := a.engine.Status(ctx, id)
			if err != nil {
				if a.log != nil {
					a.log.WithFields(logrus.Fields{"root_job_id": rootID, "job_id": id}).
						Warnf("child job status: %v", err)
				}
				return nil
			}
			states[i] = &state
			return nil
		})
	}
	_ = g.Wait()
	return states
}

// Percent is completed/total rounded to the nearest integer, 0 for an empty total.
func Percent(completed, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) * 100 / float64(total)))
}

const etaUnknown = "∞"

// FormatETA renders the time left at speed bytes per second.
func FormatETA(remaining, speed int64, complete bool) string {
	if complete || speed <= 0 {
		return etaUnknown
	}
	if remaining < 0 {
		remaining = 0
	}
	seconds := remaining / speed
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}
