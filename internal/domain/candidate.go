package domain

import "time"

// Candidate is one search result being evaluated for a request. Candidates
// are not persisted across searches.
type Candidate struct {
	Title       string
	Link        string
	Magnet      string
	InfoHash    string
	Size        string
	SizeBytes   int64
	Seeders     int
	Leechers    int
	Category    string
	Indexer     string
	PublishDate string
	Quality     string
	Format      string
}

// Snapshot converts the candidate into the persisted found-candidate form.
func (c Candidate) Snapshot() FoundCandidate {
	return FoundCandidate{
		Title:     c.Title,
		Link:      c.Link,
		Magnet:    c.Magnet,
		Size:      c.Size,
		SizeBytes: c.SizeBytes,
		Seeders:   c.Seeders,
		Indexer:   c.Indexer,
	}
}

// TorrentSearchResult is the persisted record of a candidate considered for a
// request. At most one result per request is Selected.
type TorrentSearchResult struct {
	ID        int64
	RequestID int64
	Title     string
	Link      string
	Magnet    string
	Size      string
	SizeBytes int64
	Seeders   int
	Leechers  int
	Indexer   string
	Quality   string
	Format    string
	Score     float64
	Selected  bool
	CreatedAt time.Time
}

// Candidate rebuilds the ephemeral candidate from the persisted result.
func (r TorrentSearchResult) Candidate() Candidate {
	return Candidate{
		Title:     r.Title,
		Link:      r.Link,
		Magnet:    r.Magnet,
		Size:      r.Size,
		SizeBytes: r.SizeBytes,
		Seeders:   r.Seeders,
		Leechers:  r.Leechers,
		Indexer:   r.Indexer,
		Quality:   r.Quality,
		Format:    r.Format,
	}
}
