package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"
)

const defaultTMDBBaseURL = "https://api.themoviedb.org/3"

type TMDBConfig struct {
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	Attempts uint
	Logger   *logrus.Logger
}

// TMDBClient reads series metadata from The Movie Database.
type TMDBClient struct {
	cfg  TMDBConfig
	http *http.Client
}

func NewTMDBClient(cfg TMDBConfig) *TMDBClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTMDBBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &TMDBClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type tmdbShow struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	InProduction     bool   `json:"in_production"`
	NumberOfEpisodes int    `json:"number_of_episodes"`
	Seasons          []struct {
		SeasonNumber int    `json:"season_number"`
		EpisodeCount int    `json:"episode_count"`
		AirDate      string `json:"air_date"`
	} `json:"seasons"`
}

type tmdbSeason struct {
	Episodes []struct {
		EpisodeNumber int    `json:"episode_number"`
		Name          string `json:"name"`
		AirDate       string `json:"air_date"`
	} `json:"episodes"`
}

func (c *TMDBClient) Show(ctx context.Context, catalogID string) (*Show, error) {
	var raw tmdbShow
	if err := c.get(ctx, "/tv/"+url.PathEscape(catalogID), &raw); err != nil {
		return nil, fmt.Errorf("tmdb show %s: %w", catalogID, err)
	}

	show := &Show{
		ID:            catalogID,
		Title:         raw.Name,
		Ongoing:       raw.InProduction || raw.Status == "Returning Series",
		TotalEpisodes: raw.NumberOfEpisodes,
	}
	for _, s := range raw.Seasons {
		show.Seasons = append(show.Seasons, SeasonInfo{
			Number:       s.SeasonNumber,
			EpisodeCount: s.EpisodeCount,
			AirDate:      parseAirDate(s.AirDate),
		})
	}
	return show, nil
}

func (c *TMDBClient) SeasonEpisodes(ctx context.Context, catalogID string, season int) ([]EpisodeInfo, error) {
	var raw tmdbSeason
	path := fmt.Sprintf("/tv/%s/season/%d", url.PathEscape(catalogID), season)
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, fmt.Errorf("tmdb season %s/%d: %w", catalogID, season, err)
	}

	episodes := make([]EpisodeInfo, 0, len(raw.Episodes))
	for _, ep := range raw.Episodes {
		episodes = append(episodes, EpisodeInfo{
			Number:  ep.EpisodeNumber,
			AirDate: parseAirDate(ep.AirDate),
			Title:   ep.Name,
		})
	}
	return episodes, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// retryable keeps retrying transport failures, throttling and server errors.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func (c *TMDBClient) get(ctx context.Context, path string, out any) error {
	endpoint := c.cfg.BaseURL + path + "?api_key=" + url.QueryEscape(c.cfg.APIKey)

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			req.Header.Set("Accept", "application/json")

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return &statusError{code: resp.StatusCode}
			}
			return json.NewDecoder(resp.Body).Decode(out)
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.cfg.Logger.WithField("path", path).Debugf("tmdb retry %d: %v", n+1, err)
		}),
	)
}

func parseAirDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

var _ Catalog = (*TMDBClient)(nil)
