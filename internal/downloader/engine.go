package downloader

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned for job ids the engine does not know, for
// example after a restart.
var ErrJobNotFound = errors.New("download job not found")

type JobStatus string

const (
	JobWaiting  JobStatus = "waiting"
	JobActive   JobStatus = "active"
	JobComplete JobStatus = "complete"
	JobError    JobStatus = "error"
	JobRemoved  JobStatus = "removed"
)

// JobState is a point-in-time view of one engine job. A root job fetches
// torrent metadata and spawns the content jobs listed in FollowedBy.
type JobState struct {
	ID             string
	Status         JobStatus
	TotalBytes     int64
	CompletedBytes int64
	Speed          int64
	FollowedBy     []string
	ErrorMessage   string
	Name           string
	LocalPath      string
}

// Engine is the download engine contract the orchestrator depends on.
type Engine interface {
	Submit(ctx context.Context, locator string) (string, error)
	Status(ctx context.Context, jobID string) (JobState, error)
	Cancel(ctx context.Context, jobID string) error
}
