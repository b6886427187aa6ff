package domain

import "time"

// DownloadScope describes what a download job covers for TV requests.
type DownloadScope string

const (
	ScopeWhole    DownloadScope = "whole"
	ScopeSeasons  DownloadScope = "seasons"
	ScopeEpisodes DownloadScope = "episodes"
)

// EpisodeRef addresses a single episode.
type EpisodeRef struct {
	Season  int `json:"season"`
	Episode int `json:"episode"`
}

// DownloadJob correlates a request with the download engine's root job.
// Followed-by child jobs are discovered from the engine on every poll.
type DownloadJob struct {
	Handle    string
	RootJobID string
	Locator   string
	Scope     DownloadScope
	Seasons   []int
	Episodes  []EpisodeRef
	LocalPath string
	StartedAt time.Time
}
