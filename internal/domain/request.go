package domain

import "time"

type RequestStatus string

const (
	StatusPending     RequestStatus = "PENDING"
	StatusSearching   RequestStatus = "SEARCHING"
	StatusFound       RequestStatus = "FOUND"
	StatusDownloading RequestStatus = "DOWNLOADING"
	StatusCompleted   RequestStatus = "COMPLETED"
	StatusFailed      RequestStatus = "FAILED"
	StatusCancelled   RequestStatus = "CANCELLED"
	StatusExpired     RequestStatus = "EXPIRED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSearching, StatusFound, StatusDownloading,
		StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no automatic transition leaves s.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

type ContentKind string

const (
	KindMovie  ContentKind = "MOVIE"
	KindTVShow ContentKind = "TV_SHOW"
	KindGame   ContentKind = "GAME"
)

func (k ContentKind) Valid() bool {
	return k == KindMovie || k == KindTVShow || k == KindGame
}

// SearchPolicy controls how often and how long a request is searched for.
type SearchPolicy struct {
	IntervalMinutes int
	MaxAttempts     int
	Attempts        int
	LastSearchAt    *time.Time
	NextSearchAt    *time.Time
	ExpiresAt       time.Time
}

// Exhausted reports whether the attempt budget has been spent.
func (p SearchPolicy) Exhausted() bool {
	return p.Attempts >= p.MaxAttempts
}

// SelectionPolicy holds the hard filters and preferences applied to candidates.
type SelectionPolicy struct {
	PreferredQualities []string
	PreferredFormats   []string
	MinSeeders         int
	MaxSizeBytes       int64
	BlacklistWords     []string
	TrustedIndexers    []string
}

// FoundCandidate is the snapshot of the candidate chosen for download.
type FoundCandidate struct {
	Title     string
	Link      string
	Magnet    string
	Size      string
	SizeBytes int64
	Seeders   int
	Indexer   string
}

// Locator returns the preferred download reference for the candidate.
func (f FoundCandidate) Locator() string {
	if f.Magnet != "" {
		return f.Magnet
	}
	return f.Link
}

// DownloadProgress is the last aggregated view of the active download.
type DownloadProgress struct {
	Percent        int
	TotalBytes     int64
	CompletedBytes int64
	Speed          int64
	ETA            string
	UpdatedAt      *time.Time
}

// Request represents one acquisition intent tracked by the system.
type Request struct {
	ID            int64
	UserID        int64
	Kind          ContentKind
	Title         string
	Year          int
	TMDBID        string
	IMDBID        string
	TVDBID        string
	Status        RequestStatus
	Priority      int
	Search        SearchPolicy
	Selection     SelectionPolicy
	IsOngoing     bool
	Seasons       []int // requested season numbers for TV; empty means every season
	TotalSeasons  *int
	TotalEpisodes *int

	Found    *FoundCandidate
	Download *DownloadJob
	Progress DownloadProgress

	FailureReason string
	StatusReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	ExpiredAt     *time.Time

	TvSeasons []TvShowSeason
}

// CatalogID returns the identifier used against the metadata catalog.
func (r *Request) CatalogID() string {
	return r.TMDBID
}

// WantsSeason reports whether the season was requested.
func (r *Request) WantsSeason(number int) bool {
	if len(r.Seasons) == 0 {
		return true
	}
	for _, s := range r.Seasons {
		if s == number {
			return true
		}
	}
	return false
}
