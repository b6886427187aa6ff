package indexer

import (
	"context"
	"fmt"

	"media-acquirer/internal/domain"
)

// Newznab category roots used for filtering.
const (
	CategoryMovies = 2000
	CategoryTV     = 5000
	CategoryGames  = 4000
)

type Query struct {
	Term       string
	Categories []int
	Indexers   []string
}

// Searcher is the indexer aggregation contract.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]domain.Candidate, error)
}

// CategoriesFor returns the category filter for a content kind.
func CategoriesFor(kind domain.ContentKind) []int {
	switch kind {
	case domain.KindTVShow:
		return []int{CategoryTV}
	case domain.KindGame:
		return []int{CategoryGames}
	}
	return []int{CategoryMovies}
}

// MovieQuery is "Title Year", or just the title when the year is unknown.
func MovieQuery(title string, year int) string {
	if year <= 0 {
		return title
	}
	return fmt.Sprintf("%s %d", title, year)
}

func SeasonQuery(title string, season int) string {
	return fmt.Sprintf("%s S%02d", title, season)
}

func EpisodeQuery(title string, season, episode int) string {
	return fmt.Sprintf("%s S%02dE%02d", title, season, episode)
}

func CompleteSeriesQuery(title string) string {
	return title + " complete"
}
