package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Manager is the in-process torrent engine.
type Manager interface {
	Engine
	Start(ctx context.Context) error
	Shutdown()
}

type Config struct {
	DownloadRoot   string
	MaxConcurrent  int
	StatusInterval time.Duration
	TrackerList    []string
	HTTPTimeout    time.Duration
	Logger         *logrus.Logger
}

type manager struct {
	cfg    Config
	client *torrent.Client
	http   *http.Client

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	jobs   map[string]*job
}

type job struct {
	id         string
	parent     string
	status     JobStatus
	errMsg     string
	total      int64
	completed  int64
	speed      int64
	followedBy []string
	name       string
	localPath  string

	torrent *torrent.Torrent
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewManager(cfg Config) Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if len(cfg.TrackerList) == 0 {
		cfg.TrackerList = DefaultTrackers()
	}
	return &manager{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.HTTPTimeout,
			// indexer download links frequently redirect to a magnet URI
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if req.URL.Scheme == "magnet" {
					return http.ErrUseLastResponse
				}
				if len(via) >= 10 {
					return errors.New("stopped after 10 redirects")
				}
				return nil
			},
		},
		sem:  make(chan struct{}, cfg.MaxConcurrent),
		jobs: make(map[string]*job),
	}
}

func (m *manager) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.DownloadRoot, 0o755); err != nil {
		return fmt.Errorf("create download root: %w", err)
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = m.cfg.DownloadRoot
	clientConfig.NoUpload = false
	clientConfig.Seed = false

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("create torrent client: %w", err)
	}

	m.client = client
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.cfg.Logger.Infof("download engine started, data dir: %s", m.cfg.DownloadRoot)
	return nil
}

func (m *manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if m.client != nil {
		m.client.Close()
	}
	m.cfg.Logger.Info("download engine stopped")
}

// Submit registers a root job for locator (a magnet URI or an http(s) link
// to a .torrent file) and starts it once a download slot is free.
func (m *manager) Submit(ctx context.Context, locator string) (string, error) {
	if m.client == nil {
		return "", errors.New("download engine not started")
	}
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", errors.New("empty locator")
	}

	jobCtx, cancel := context.WithCancel(m.ctx)
	root := &job{
		id:     uuid.NewString(),
		status: JobWaiting,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.register(root)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(root.done)
		select {
		case <-jobCtx.Done():
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			m.run(jobCtx, root, locator)
		}
	}()

	m.cfg.Logger.WithField("job_id", root.id).Debugf("download submitted: %s", truncate(locator, 80))
	return root.id, nil
}

func (m *manager) Status(_ context.Context, jobID string) (JobState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return JobState{}, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	return JobState{
		ID:             j.id,
		Status:         j.status,
		TotalBytes:     j.total,
		CompletedBytes: j.completed,
		Speed:          j.speed,
		FollowedBy:     append([]string(nil), j.followedBy...),
		ErrorMessage:   j.errMsg,
		Name:           j.name,
		LocalPath:      j.localPath,
	}, nil
}

// Cancel stops the job and every job it spawned. Unknown ids are not an error.
func (m *manager) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if j.parent != "" {
		if parent, ok := m.jobs[j.parent]; ok {
			j = parent
		}
	}
	related := append([]string{j.id}, j.followedBy...)
	for _, id := range related {
		if rel, ok := m.jobs[id]; ok && rel.status != JobComplete {
			rel.status = JobRemoved
		}
	}
	t := j.torrent
	m.mu.Unlock()

	j.cancel()
	if t != nil {
		t.Drop()
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *manager) register(j *job) {
	m.mu.Lock()
	m.jobs[j.id] = j
	m.mu.Unlock()
}

func (m *manager) update(id string, fn func(j *job)) {
	m.mu.Lock()
	if j, ok := m.jobs[id]; ok {
		fn(j)
	}
	m.mu.Unlock()
}

func (m *manager) fail(j *job, failErr error) {
	m.update(j.id, func(j *job) {
		j.status = JobError
		j.errMsg = failErr.Error()
	})
	m.cfg.Logger.WithField("job_id", j.id).Error(failErr.Error())
}

func (m *manager) run(ctx context.Context, root *job, locator string) {
	logger := m.cfg.Logger.WithField("job_id", root.id)
	m.update(root.id, func(j *job) { j.status = JobActive })

	t, err := m.addTorrent(ctx, locator)
	if err != nil {
		m.fail(root, err)
		return
	}
	defer t.Drop()
	m.update(root.id, func(j *job) { j.torrent = t })

	select {
	case <-ctx.Done():
		logger.Info("job cancelled before fetching metadata")
		return
	case <-t.GotInfo():
	}

	info := t.Info()
	if info == nil {
		m.fail(root, errors.New("missing torrent info"))
		return
	}

	name := info.BestName()
	localPath := filepath.Join(m.cfg.DownloadRoot, name)
	infoSize := int64(len(t.Metainfo().InfoBytes))
	child := &job{
		id:        uuid.NewString(),
		parent:    root.id,
		status:    JobActive,
		total:     info.TotalLength(),
		name:      name,
		localPath: localPath,
		cancel:    root.cancel,
		done:      root.done,
	}
	m.register(child)
	m.update(root.id, func(j *job) {
		j.status = JobComplete
		j.total = infoSize
		j.completed = infoSize
		j.name = name
		j.localPath = localPath
		j.followedBy = append(j.followedBy, child.id)
	})
	logger.WithField("content_job_id", child.id).Infof("metadata resolved for %s", name)

	t.DownloadAll()
	m.track(ctx, child, t)
}

// track samples the torrent until it completes or ctx ends.
func (m *manager) track(ctx context.Context, child *job, t *torrent.Torrent) {
	logger := m.cfg.Logger.WithField("job_id", child.id)
	lastBytes := t.BytesCompleted()
	lastTime := time.Now()

	ticker := time.NewTicker(m.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("job cancelled")
			return
		case <-ticker.C:
			bytesCompleted := t.BytesCompleted()
			elapsed := time.Since(lastTime).Seconds()
			speed := int64(0)
			if elapsed > 0 {
				speed = int64(float64(bytesCompleted-lastBytes) / elapsed)
			}
			lastBytes = bytesCompleted
			lastTime = time.Now()

			finished := t.BytesMissing() == 0
			m.update(child.id, func(j *job) {
				j.completed = bytesCompleted
				j.speed = speed
				if finished {
					j.status = JobComplete
					j.speed = 0
				}
			})
			if finished {
				logger.Info("download completed")
				return
			}
		}
	}
}

func (m *manager) addTorrent(ctx context.Context, locator string) (*torrent.Torrent, error) {
	if strings.HasPrefix(locator, "magnet:") {
		t, err := m.client.AddMagnet(EnrichMagnet(locator, m.cfg.TrackerList))
		if err != nil {
			return nil, fmt.Errorf("add magnet: %w", err)
		}
		return t, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("build torrent request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch torrent file: %w", err)
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); strings.HasPrefix(loc, "magnet:") {
		return m.addTorrent(ctx, loc)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch torrent file: status %d", resp.StatusCode)
	}

	mi, err := metainfo.Load(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse torrent file: %w", err)
	}
	t, err := m.client.AddTorrent(mi)
	if err != nil {
		return nil, fmt.Errorf("add torrent: %w", err)
	}
	if len(mi.UpvertedAnnounceList()) == 0 {
		t.AddTrackers([][]string{m.cfg.TrackerList})
	}
	return t, nil
}

// EnrichMagnet appends trackers to a magnet URI that carries none.
func EnrichMagnet(uri string, trackers []string) string {
	mag, err := metainfo.ParseMagnetUri(uri)
	if err != nil || len(mag.Trackers) > 0 || len(trackers) == 0 {
		return uri
	}
	mag.Trackers = append([]string(nil), trackers...)
	return mag.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func DefaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"http://tracker.openbittorrent.com:80/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://tracker.moeking.me:6969/announce",
	}
}

var _ Manager = (*manager)(nil)
