package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/orchestrator"
	"media-acquirer/internal/repository"
	"media-acquirer/internal/service"
	"media-acquirer/internal/statemachine"
	"media-acquirer/internal/storage"
)

// Config carries the handler's collaborators. Storage and Metrics are optional.
type Config struct {
	Requests  service.RequestService
	Users     service.UserService
	Storage   storage.Service
	Bucket    string
	KeyPrefix string
	DataRoot  string
	JWTSecret string
	TokenTTL  time.Duration
	Metrics   http.Handler
	Logger    *logrus.Logger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	requests  service.RequestService
	users     service.UserService
	storage   storage.Service
	bucket    string
	keyPrefix string
	dataRoot  string
	jwtSecret []byte
	tokenTTL  time.Duration
	metrics   http.Handler
	log       *logrus.Logger
}

func NewHandler(cfg Config) *Handler {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Handler{
		requests:  cfg.Requests,
		users:     cfg.Users,
		storage:   cfg.Storage,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		dataRoot:  cfg.DataRoot,
		jwtSecret: []byte(cfg.JWTSecret),
		tokenTTL:  cfg.TokenTTL,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
		api.POST("/auth/register", h.register)
		api.POST("/auth/login", h.login)
	}

	authed := api.Group("", h.authMiddleware())
	{
		authed.POST("/requests", h.createRequest)
		authed.GET("/requests", h.listRequests)
		authed.GET("/requests/:id", h.getRequest)
		authed.DELETE("/requests/:id", h.deleteRequest)
		authed.POST("/requests/:id/cancel", h.cancelRequest)
		authed.POST("/requests/:id/reactivate", h.reactivateRequest)
		authed.GET("/requests/:id/results", h.listResults)
		authed.POST("/requests/:id/results/:resultId/select", h.selectResult)
		authed.GET("/requests/:id/progress", h.getProgress)
		authed.GET("/storage/objects", h.listObjects)
		authed.GET("/storage/url", h.presignObject)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// writeError maps domain errors onto status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, statemachine.ErrInvalidTransition),
		errors.Is(err, statemachine.ErrGuardRejected),
		errors.Is(err, orchestrator.ErrSelectionNotAllowed),
		errors.Is(err, orchestrator.ErrNothingToReactivate),
		errors.Is(err, service.ErrRequestActive):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return id, true
}

type createRequestBody struct {
	Kind               domain.ContentKind `json:"kind" binding:"required"`
	Title              string             `json:"title" binding:"required"`
	Year               int                `json:"year"`
	TMDBID             string             `json:"tmdb_id"`
	IMDBID             string             `json:"imdb_id"`
	TVDBID             string             `json:"tvdb_id"`
	Priority           int                `json:"priority"`
	Seasons            []int              `json:"seasons"`
	IntervalMinutes    int                `json:"search_interval_minutes"`
	MaxAttempts        int                `json:"max_search_attempts"`
	MinSeeders         int                `json:"min_seeders"`
	PreferredQualities []string           `json:"preferred_qualities"`
	PreferredFormats   []string           `json:"preferred_formats"`
}

func (h *Handler) createRequest(c *gin.Context) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.requests.Create(c.Request.Context(), currentUser(c), service.CreateRequestInput{
		Kind:               domain.ContentKind(strings.ToUpper(string(body.Kind))),
		Title:              body.Title,
		Year:               body.Year,
		TMDBID:             body.TMDBID,
		IMDBID:             body.IMDBID,
		TVDBID:             body.TVDBID,
		Priority:           body.Priority,
		Seasons:            body.Seasons,
		IntervalMinutes:    body.IntervalMinutes,
		MaxAttempts:        body.MaxAttempts,
		MinSeeders:         body.MinSeeders,
		PreferredQualities: body.PreferredQualities,
		PreferredFormats:   body.PreferredFormats,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, requestToResponse(*req))
}

func (h *Handler) listRequests(c *gin.Context) {
	var filter repository.RequestFilter
	for _, s := range splitQuery(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.RequestStatus(strings.ToUpper(s)))
	}
	for _, k := range splitQuery(c.Query("kind")) {
		filter.Kinds = append(filter.Kinds, domain.ContentKind(strings.ToUpper(k)))
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	requests, err := h.requests.List(c.Request.Context(), currentUser(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]RequestResponse, len(requests))
	for i := range requests {
		resp[i] = requestToResponse(requests[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getRequest(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	req, err := h.requests.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, requestToResponse(*req))
}

func (h *Handler) cancelRequest(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	req, err := h.requests.Cancel(c.Request.Context(), currentUser(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, requestToResponse(*req))
}

func (h *Handler) reactivateRequest(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	req, err := h.requests.Reactivate(c.Request.Context(), currentUser(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, requestToResponse(*req))
}

func (h *Handler) listResults(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	results, err := h.requests.Results(c.Request.Context(), currentUser(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]SearchResultResponse, len(results))
	for i := range results {
		resp[i] = resultToResponse(results[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) selectResult(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	resultID, ok := parseID(c, "resultId")
	if !ok {
		return
	}

	req, err := h.requests.SelectCandidate(c.Request.Context(), currentUser(c), id, resultID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, requestToResponse(*req))
}

func (h *Handler) getProgress(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	progress, err := h.requests.Progress(c.Request.Context(), currentUser(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := ProgressResponse{
		RequestID:    progress.RequestID,
		Status:       progress.Status,
		StatusReason: progress.StatusReason,
		Progress:     progressToResponse(progress.Progress),
	}
	if progress.Download != nil {
		resp.JobID = progress.Download.RootJobID
		resp.LocalPath = progress.Download.LocalPath
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) deleteRequest(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	deleteRemote, err := strconv.ParseBool(c.DefaultQuery("delete_remote", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_remote"})
		return
	}
	if deleteRemote && (h.storage == nil || h.bucket == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
		return
	}

	req, err := h.requests.Delete(c.Request.Context(), currentUser(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	var warnings []string
	if deleteRemote {
		remoteCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		if err := h.storage.DeletePrefix(remoteCtx, h.bucket, storage.KeyFor(h.keyPrefix, req)); err != nil {
			warnings = append(warnings, fmt.Sprintf("delete remote data: %v", err))
		}
	}
	warnings = append(warnings, h.cleanupLocalData(req)...)

	for _, w := range warnings {
		h.log.WithField("request_id", req.ID).Warn(w)
	}

	resp := gin.H{"deleted": req.ID}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

// cleanupLocalData removes the request's download directory when it lives
// under the data root.
func (h *Handler) cleanupLocalData(req *domain.Request) []string {
	if req.Download == nil || req.Download.LocalPath == "" || h.dataRoot == "" {
		return nil
	}
	root := filepath.Clean(h.dataRoot)
	clean := filepath.Clean(req.Download.LocalPath)
	if rel, err := filepath.Rel(root, clean); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	if err := os.RemoveAll(clean); err != nil && !os.IsNotExist(err) {
		return []string{fmt.Sprintf("remove local data %s: %v", clean, err)}
	}
	return nil
}

func (h *Handler) listObjects(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage service not configured"})
		return
	}

	prefix := c.DefaultQuery("prefix", h.keyPrefix)
	objects, err := h.storage.ListObjects(c.Request.Context(), h.bucket, prefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) presignObject(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage service not configured"})
		return
	}

	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	expires, err := time.ParseDuration(c.DefaultQuery("expires", "15m"))
	if err != nil || expires <= 0 || expires > 7*24*time.Hour {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expires"})
		return
	}

	url, err := h.storage.PresignURL(c.Request.Context(), h.bucket, key, expires)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_at": time.Now().UTC().Add(expires).Format(time.RFC3339)})
}

func splitQuery(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type RequestResponse struct {
	ID                 int64                `json:"id"`
	Kind               domain.ContentKind   `json:"kind"`
	Title              string               `json:"title"`
	Year               int                  `json:"year,omitempty"`
	TMDBID             string               `json:"tmdb_id,omitempty"`
	IMDBID             string               `json:"imdb_id,omitempty"`
	TVDBID             string               `json:"tvdb_id,omitempty"`
	Status             domain.RequestStatus `json:"status"`
	StatusReason       string               `json:"status_reason,omitempty"`
	FailureReason      string               `json:"failure_reason,omitempty"`
	Priority           int                  `json:"priority"`
	SearchAttempts     int                  `json:"search_attempts"`
	MaxSearchAttempts  int                  `json:"max_search_attempts"`
	SearchInterval     int                  `json:"search_interval_minutes"`
	LastSearchAt       *string              `json:"last_search_at,omitempty"`
	NextSearchAt       *string              `json:"next_search_at,omitempty"`
	ExpiresAt          string               `json:"expires_at"`
	IsOngoing          bool                 `json:"is_ongoing"`
	RequestedSeasons   []int                `json:"requested_seasons,omitempty"`
	TotalSeasons       *int                 `json:"total_seasons,omitempty"`
	TotalEpisodes      *int                 `json:"total_episodes,omitempty"`
	Found              *FoundResponse       `json:"found,omitempty"`
	Progress           ProgressBody         `json:"progress"`
	CreatedAt          string               `json:"created_at"`
	UpdatedAt          string               `json:"updated_at"`
	CompletedAt        *string              `json:"completed_at,omitempty"`
	Seasons            []SeasonResponse     `json:"seasons,omitempty"`
	PreferredQualities []string             `json:"preferred_qualities,omitempty"`
}

type FoundResponse struct {
	Title   string `json:"title"`
	Size    string `json:"size"`
	Seeders int    `json:"seeders"`
	Indexer string `json:"indexer,omitempty"`
}

type ProgressBody struct {
	Percent        int     `json:"percent"`
	TotalBytes     int64   `json:"total_bytes"`
	CompletedBytes int64   `json:"completed_bytes"`
	Speed          int64   `json:"speed"`
	SpeedHuman     string  `json:"speed_human"`
	ETA            string  `json:"eta,omitempty"`
	UpdatedAt      *string `json:"updated_at,omitempty"`
}

type ProgressResponse struct {
	RequestID    int64                `json:"request_id"`
	Status       domain.RequestStatus `json:"status"`
	StatusReason string               `json:"status_reason,omitempty"`
	JobID        string               `json:"job_id,omitempty"`
	LocalPath    string               `json:"local_path,omitempty"`
	Progress     ProgressBody         `json:"progress"`
}

type SeasonResponse struct {
	Number        int                  `json:"number"`
	Status        domain.RequestStatus `json:"status"`
	TotalEpisodes *int                 `json:"total_episodes,omitempty"`
	Episodes      []EpisodeResponse    `json:"episodes"`
}

type EpisodeResponse struct {
	Number  int                  `json:"number"`
	Title   string               `json:"title,omitempty"`
	Status  domain.RequestStatus `json:"status"`
	AirDate *string              `json:"air_date,omitempty"`
}

type SearchResultResponse struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Size     string  `json:"size"`
	Seeders  int     `json:"seeders"`
	Leechers int     `json:"leechers"`
	Indexer  string  `json:"indexer,omitempty"`
	Quality  string  `json:"quality,omitempty"`
	Format   string  `json:"format,omitempty"`
	Score    float64 `json:"score"`
	Selected bool    `json:"selected"`
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Format(time.RFC3339)
	return &v
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	return StorageObjectResponse{
		Key:          obj.Key,
		Size:         obj.Size,
		LastModified: formatTime(obj.LastModified),
	}
}

func progressToResponse(p domain.DownloadProgress) ProgressBody {
	resp := ProgressBody{
		Percent:        p.Percent,
		TotalBytes:     p.TotalBytes,
		CompletedBytes: p.CompletedBytes,
		Speed:          p.Speed,
		ETA:            p.ETA,
		UpdatedAt:      formatTime(p.UpdatedAt),
	}
	if p.Speed > 0 {
		resp.SpeedHuman = humanize.Bytes(uint64(p.Speed)) + "/s"
	}
	return resp
}

func resultToResponse(r domain.TorrentSearchResult) SearchResultResponse {
	return SearchResultResponse{
		ID:       r.ID,
		Title:    r.Title,
		Size:     r.Size,
		Seeders:  r.Seeders,
		Leechers: r.Leechers,
		Indexer:  r.Indexer,
		Quality:  r.Quality,
		Format:   r.Format,
		Score:    r.Score,
		Selected: r.Selected,
	}
}

func requestToResponse(req domain.Request) RequestResponse {
	resp := RequestResponse{
		ID:                 req.ID,
		Kind:               req.Kind,
		Title:              req.Title,
		Year:               req.Year,
		TMDBID:             req.TMDBID,
		IMDBID:             req.IMDBID,
		TVDBID:             req.TVDBID,
		Status:             req.Status,
		StatusReason:       req.StatusReason,
		FailureReason:      req.FailureReason,
		Priority:           req.Priority,
		SearchAttempts:     req.Search.Attempts,
		MaxSearchAttempts:  req.Search.MaxAttempts,
		SearchInterval:     req.Search.IntervalMinutes,
		LastSearchAt:       formatTime(req.Search.LastSearchAt),
		NextSearchAt:       formatTime(req.Search.NextSearchAt),
		ExpiresAt:          req.Search.ExpiresAt.Format(time.RFC3339),
		IsOngoing:          req.IsOngoing,
		RequestedSeasons:   req.Seasons,
		TotalSeasons:       req.TotalSeasons,
		TotalEpisodes:      req.TotalEpisodes,
		Progress:           progressToResponse(req.Progress),
		CreatedAt:          req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          req.UpdatedAt.Format(time.RFC3339),
		CompletedAt:        formatTime(req.CompletedAt),
		PreferredQualities: req.Selection.PreferredQualities,
	}
	if req.Found != nil {
		resp.Found = &FoundResponse{
			Title:   req.Found.Title,
			Size:    req.Found.Size,
			Seeders: req.Found.Seeders,
			Indexer: req.Found.Indexer,
		}
	}

	for _, season := range req.TvSeasons {
		s := SeasonResponse{
			Number:        season.SeasonNumber,
			Status:        season.Status,
			TotalEpisodes: season.TotalEpisodes,
			Episodes:      make([]EpisodeResponse, len(season.Episodes)),
		}
		for i, ep := range season.Episodes {
			s.Episodes[i] = EpisodeResponse{
				Number:  ep.EpisodeNumber,
				Title:   ep.Title,
				Status:  ep.Status,
				AirDate: formatTime(ep.AirDate),
			}
		}
		resp.Seasons = append(resp.Seasons, s)
	}
	return resp
}
