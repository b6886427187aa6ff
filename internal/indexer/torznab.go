package indexer

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"media-acquirer/internal/domain"
)

// indexerPlaceholder in the endpoint URL is replaced with each requested
// indexer, for example a Jackett per-indexer torznab path.
const indexerPlaceholder = "{indexer}"

type TorznabConfig struct {
	URL      string
	APIKey   string
	Timeout  time.Duration
	Attempts uint
	Logger   *logrus.Logger
}

// TorznabClient searches a Torznab endpoint such as Jackett or Prowlarr.
type TorznabClient struct {
	cfg  TorznabConfig
	http *http.Client
}

func NewTorznabClient(cfg TorznabConfig) *TorznabClient {
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &TorznabClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type torznabRSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string        `xml:"title"`
		Items []torznabItem `xml:"item"`
	} `xml:"channel"`
}

type torznabItem struct {
	Title      string   `xml:"title"`
	GUID       string   `xml:"guid"`
	Link       string   `xml:"link"`
	PubDate    string   `xml:"pubDate"`
	Size       string   `xml:"size"`
	Categories []string `xml:"category"`
	JackettIdx string   `xml:"jackettindexer"`
	Enclosure  struct {
		URL    string `xml:"url,attr"`
		Length string `xml:"length,attr"`
	} `xml:"enclosure"`
	Attributes []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value,attr"`
	} `xml:"attr"`
}

// Search queries every requested indexer, or the endpoint itself when the
// URL has no indexer placeholder. Results from indexers outside the filter
// are dropped.
func (c *TorznabClient) Search(ctx context.Context, q Query) ([]domain.Candidate, error) {
	targets := []string{""}
	if strings.Contains(c.cfg.URL, indexerPlaceholder) {
		targets = q.Indexers
		if len(targets) == 0 {
			targets = []string{"all"}
		}
	}

	var out []domain.Candidate
	for _, target := range targets {
		results, err := c.searchOne(ctx, target, q)
		if err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return filterIndexers(out, q.Indexers), nil
}

func (c *TorznabClient) searchOne(ctx context.Context, target string, q Query) ([]domain.Candidate, error) {
	endpoint := c.endpoint(target, q)
	logger := c.cfg.Logger.WithFields(logrus.Fields{"query": q.Term, "indexer": target})
	logger.Debug("searching torznab indexer")

	var rss torznabRSS
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("torznab indexer returned status %d", resp.StatusCode)
			}
			rss = torznabRSS{}
			return xml.NewDecoder(resp.Body).Decode(&rss)
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("torznab search %q: %w", q.Term, err)
	}

	source := target
	if source == "" || source == "all" {
		source = rss.Channel.Title
	}
	candidates := make([]domain.Candidate, 0, len(rss.Channel.Items))
	for _, item := range rss.Channel.Items {
		candidates = append(candidates, convertItem(item, source))
	}
	logger.Debugf("torznab returned %d results", len(candidates))
	return candidates, nil
}

func (c *TorznabClient) endpoint(target string, q Query) string {
	base := strings.ReplaceAll(c.cfg.URL, indexerPlaceholder, url.PathEscape(target))
	if !strings.HasSuffix(base, "/api") {
		base += "/api"
	}

	params := url.Values{}
	params.Set("t", "search")
	params.Set("q", q.Term)
	if c.cfg.APIKey != "" {
		params.Set("apikey", c.cfg.APIKey)
	}
	if len(q.Categories) > 0 {
		cats := make([]string, len(q.Categories))
		for i, cat := range q.Categories {
			cats[i] = strconv.Itoa(cat)
		}
		params.Set("cat", strings.Join(cats, ","))
	}
	return base + "?" + params.Encode()
}

func convertItem(item torznabItem, source string) domain.Candidate {
	c := domain.Candidate{
		Title:       item.Title,
		Link:        item.Enclosure.URL,
		PublishDate: item.PubDate,
		Indexer:     source,
	}
	if item.JackettIdx != "" {
		c.Indexer = item.JackettIdx
	}
	if c.Link == "" {
		c.Link = item.Link
	}
	if strings.HasPrefix(c.Link, "magnet:") {
		c.Magnet = c.Link
	}
	if len(item.Categories) > 0 {
		c.Category = item.Categories[0]
	}

	peers := -1
	for _, attr := range item.Attributes {
		switch strings.ToLower(attr.Name) {
		case "seeders":
			c.Seeders, _ = strconv.Atoi(attr.Value)
		case "peers":
			if v, err := strconv.Atoi(attr.Value); err == nil {
				peers = v
			}
		case "leechers":
			c.Leechers, _ = strconv.Atoi(attr.Value)
		case "infohash":
			c.InfoHash = strings.ToLower(attr.Value)
		case "magneturl":
			c.Magnet = attr.Value
		case "size":
			c.SizeBytes, _ = strconv.ParseInt(attr.Value, 10, 64)
		case "resolution":
			c.Quality = attr.Value
		case "category":
			if c.Category == "" {
				c.Category = attr.Value
			}
		}
	}
	if c.Leechers == 0 && peers > c.Seeders {
		c.Leechers = peers - c.Seeders
	}

	for _, raw := range []string{item.Size, item.Enclosure.Length} {
		if c.SizeBytes > 0 {
			break
		}
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.SizeBytes = v
		}
	}
	if c.SizeBytes > 0 {
		c.Size = humanize.Bytes(uint64(c.SizeBytes))
	}
	return c
}

func filterIndexers(candidates []domain.Candidate, allowed []string) []domain.Candidate {
	if len(allowed) == 0 {
		return candidates
	}
	out := candidates[:0]
	for _, c := range candidates {
		for _, name := range allowed {
			if strings.EqualFold(name, c.Indexer) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

var _ Searcher = (*TorznabClient)(nil)
