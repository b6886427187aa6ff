package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Download struct {
		DataDir        string
		MaxConcurrent  int
		StatusInterval time.Duration
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret        string
		RegisterPassword string
		TokenTTLMinutes  int
	}
	Indexer struct {
		URL             string
		APIKey          string
		TimeoutSeconds  int
		TrustedIndexers []string
	}
	Catalog struct {
		TMDBAPIKey      string
		BaseURL         string
		TimeoutSeconds  int
		CacheTTLMinutes int
		CacheSize       int
	}
	Scheduler struct {
		DownloadPollSeconds int
		ContentSweepMinutes int
		SearchSweepSeconds  int
	}
	Search struct {
		IntervalMinutes    int
		MaxAttempts        int
		ExpiryDays         int
		MinSeeders         int
		MaxSizeGB          float64
		PreferredQualities []string
		PreferredFormats   []string
		Blacklist          []string
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv(".env")

	v := viper.New()
	v.SetEnvPrefix("ACQUIRER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/acquirer.db")
	v.SetDefault("download.datadir", "data/downloads")
	v.SetDefault("download.maxconcurrent", 3)
	v.SetDefault("download.statusinterval", 2*time.Second)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "library")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.registerpassword", "")
	v.SetDefault("auth.tokenttlminutes", 24*60)
	v.SetDefault("indexer.url", "")
	v.SetDefault("indexer.apikey", "")
	v.SetDefault("indexer.timeoutseconds", 30)
	v.SetDefault("indexer.trustedindexers", []string{})
	v.SetDefault("catalog.tmdbapikey", "")
	v.SetDefault("catalog.baseurl", "https://api.themoviedb.org/3")
	v.SetDefault("catalog.timeoutseconds", 15)
	v.SetDefault("catalog.cachettlminutes", 6*60)
	v.SetDefault("catalog.cachesize", 512)
	v.SetDefault("scheduler.downloadpollseconds", 30)
	v.SetDefault("scheduler.contentsweepminutes", 6*60)
	v.SetDefault("scheduler.searchsweepseconds", 300)
	v.SetDefault("search.intervalminutes", 60)
	v.SetDefault("search.maxattempts", 24)
	v.SetDefault("search.expirydays", 30)
	v.SetDefault("search.minseeders", 1)
	v.SetDefault("search.maxsizegb", 0)
	v.SetDefault("search.preferredqualities", []string{"1080p", "2160p", "720p"})
	v.SetDefault("search.preferredformats", []string{"x265", "x264"})
	v.SetDefault("search.blacklist", []string{"cam", "telesync", "hdts"})
	v.SetDefault("log.level", "info")
}

// Validate checks what the long running server cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth jwt secret is required")
	}
	if strings.TrimSpace(c.Auth.RegisterPassword) == "" {
		return errors.New("auth registration password is required")
	}
	if c.Search.MaxAttempts <= 0 {
		return errors.New("search max attempts must be positive")
	}
	if c.Scheduler.DownloadPollSeconds <= 0 || c.Scheduler.SearchSweepSeconds <= 0 || c.Scheduler.ContentSweepMinutes <= 0 {
		return errors.New("scheduler intervals must be positive")
	}
	return nil
}

// MaxSizeBytes converts the configured size cap. Zero means unlimited.
func (c Config) MaxSizeBytes() int64 {
	if c.Search.MaxSizeGB <= 0 {
		return 0
	}
	return int64(c.Search.MaxSizeGB * (1 << 30))
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
