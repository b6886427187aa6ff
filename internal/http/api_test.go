package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-acquirer/internal/domain"
	"media-acquirer/internal/repository"
	"media-acquirer/internal/service"
	"media-acquirer/internal/statemachine"
)

type fakeUsers struct{}

func (fakeUsers) Register(_ context.Context, username, _, secret string) (*domain.User, error) {
	if secret != "letmein" {
		return nil, service.ErrInvalidRegistrationPassword
	}
	return &domain.User{ID: 2, Username: username}, nil
}

func (fakeUsers) Authenticate(_ context.Context, username, password string) (*domain.User, error) {
	if username != "alice" || password != "correct horse" {
		return nil, service.ErrInvalidCredentials
	}
	return &domain.User{ID: 1, Username: "alice"}, nil
}

func (fakeUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	return &domain.User{ID: id}, nil
}

type fakeRequests struct {
	items   map[int64]*domain.Request
	created []service.CreateRequestInput
	filter  repository.RequestFilter
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{items: map[int64]*domain.Request{}}
}

func (f *fakeRequests) get(userID, id int64) (*domain.Request, error) {
	req, ok := f.items[id]
	if !ok || req.UserID != userID {
		return nil, fmt.Errorf("request %d: %w", id, repository.ErrNotFound)
	}
	return req, nil
}

func (f *fakeRequests) Create(_ context.Context, userID int64, in service.CreateRequestInput) (*domain.Request, error) {
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind", service.ErrInvalidRequest)
	}
	f.created = append(f.created, in)
	req := &domain.Request{
		ID:     int64(len(f.items) + 1),
		UserID: userID,
		Kind:   in.Kind,
		Title:  in.Title,
		Status: domain.StatusPending,
	}
	f.items[req.ID] = req
	return req, nil
}

func (f *fakeRequests) Get(_ context.Context, userID, id int64) (*domain.Request, error) {
	return f.get(userID, id)
}

func (f *fakeRequests) List(_ context.Context, userID int64, filter repository.RequestFilter) ([]domain.Request, error) {
	f.filter = filter
	var out []domain.Request
	for _, req := range f.items {
		if req.UserID == userID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (f *fakeRequests) Cancel(_ context.Context, userID, id int64) (*domain.Request, error) {
	req, err := f.get(userID, id)
	if err != nil {
		return nil, err
	}
	if req.Status == domain.StatusCancelled {
		return nil, fmt.Errorf("%w: CANCELLED -> CANCELLED", statemachine.ErrInvalidTransition)
	}
	req.Status = domain.StatusCancelled
	return req, nil
}

func (f *fakeRequests) Reactivate(_ context.Context, userID, id int64) (*domain.Request, error) {
	return f.get(userID, id)
}

func (f *fakeRequests) SelectCandidate(_ context.Context, userID, requestID, _ int64) (*domain.Request, error) {
	return f.get(userID, requestID)
}

func (f *fakeRequests) Results(_ context.Context, userID, id int64) ([]domain.TorrentSearchResult, error) {
	if _, err := f.get(userID, id); err != nil {
		return nil, err
	}
	return []domain.TorrentSearchResult{{ID: 5, RequestID: id, Title: "Dune.2021.1080p", Score: 80, Selected: true}}, nil
}

func (f *fakeRequests) Progress(_ context.Context, userID, id int64) (*service.RequestProgress, error) {
	req, err := f.get(userID, id)
	if err != nil {
		return nil, err
	}
	return &service.RequestProgress{
		RequestID: req.ID,
		Status:    domain.StatusDownloading,
		Progress:  domain.DownloadProgress{Percent: 40, Speed: 2048, ETA: "1m"},
		Download:  &domain.DownloadJob{RootJobID: "job-1"},
	}, nil
}

func (f *fakeRequests) Delete(_ context.Context, userID, id int64) (*domain.Request, error) {
	req, err := f.get(userID, id)
	if err != nil {
		return nil, err
	}
	if !req.Status.Terminal() {
		return nil, service.ErrRequestActive
	}
	delete(f.items, id)
	return req, nil
}

type testServer struct {
	router   *gin.Engine
	handler  *Handler
	requests *fakeRequests
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	requests := newFakeRequests()
	h := NewHandler(Config{
		Requests:  requests,
		Users:     fakeUsers{},
		JWTSecret: "jwt-secret",
		TokenTTL:  time.Hour,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("acquirer_transitions_total 0\n"))
		}),
	})
	router := gin.New()
	h.RegisterRoutes(router)
	return &testServer{router: router, handler: h, requests: requests}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice",
		"password": "correct horse",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, int64(1), resp.User.ID)
	return resp.Token
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acquirer_transitions_total")
}

func TestAuthFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/requests", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/requests", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "bob", "password": "long enough", "register_password": "wrong",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "bob", "password": "long enough", "register_password": "letmein",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	token := s.login(t)
	rec = s.do(t, http.MethodGet, "/api/requests", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenSignedWithOtherSecretIsRejected(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	other := NewHandler(Config{JWTSecret: "other-secret"})
	token, _, err := other.issueToken(1)
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/requests", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	userID, err := s.handler.parseToken(s.login(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1), userID)
}

func TestRequestEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token := s.login(t)

	rec := s.do(t, http.MethodPost, "/api/requests", token, map[string]any{
		"kind":  "movie",
		"title": "Dune",
		"year":  2021,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created RequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, domain.KindMovie, created.Kind)
	assert.Equal(t, domain.StatusPending, created.Status)
	require.Len(t, s.requests.created, 1)
	assert.Equal(t, 2021, s.requests.created[0].Year)

	rec = s.do(t, http.MethodPost, "/api/requests", token, map[string]any{"kind": "book", "title": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := fmt.Sprintf("/api/requests/%d", created.ID)
	rec = s.do(t, http.MethodGet, path, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/requests/999", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/requests/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/requests?status=pending,failed&kind=movie&limit=5", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.RequestStatus{domain.StatusPending, domain.StatusFailed}, s.requests.filter.Statuses)
	assert.Equal(t, []domain.ContentKind{domain.KindMovie}, s.requests.filter.Kinds)
	assert.Equal(t, 5, s.requests.filter.Limit)

	rec = s.do(t, http.MethodGet, path+"/results", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results []SearchResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.True(t, results[0].Selected)

	rec = s.do(t, http.MethodPost, path+"/results/5/select", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, path+"/progress", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var progress ProgressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	assert.Equal(t, 40, progress.Progress.Percent)
	assert.Equal(t, "2.0 kB/s", progress.Progress.SpeedHuman)
	assert.Equal(t, "job-1", progress.JobID)

	rec = s.do(t, http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, path+"/cancel", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, path+"/cancel", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, path+"?delete_remote=true", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, path, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStorageEndpointsRequireStorage(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token := s.login(t)

	rec := s.do(t, http.MethodGet, "/api/storage/objects", token, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
