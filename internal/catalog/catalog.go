package catalog

import (
	"context"
	"time"
)

type SeasonInfo struct {
	Number       int
	EpisodeCount int
	AirDate      *time.Time
}

type EpisodeInfo struct {
	Number  int
	AirDate *time.Time
	Title   string
}

// Show is the catalog view of a series.
type Show struct {
	ID            string
	Title         string
	Ongoing       bool
	TotalEpisodes int
	Seasons       []SeasonInfo
}

// Catalog provides show and release metadata.
type Catalog interface {
	Show(ctx context.Context, catalogID string) (*Show, error)
	SeasonEpisodes(ctx context.Context, catalogID string, season int) ([]EpisodeInfo, error)
}
