package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/terrain-tiler/internal/dispatcher"
	"github.com/JakeFAU/terrain-tiler/internal/store"
	"github.com/JakeFAU/terrain-tiler/internal/store/memory"
)

var fixedRunID = uuid.MustParse("0190a2b4-0000-7000-8000-000000000001")

type fakeIDGen struct{}

func (fakeIDGen) NewRawID() (uuid.UUID, error) { return fixedRunID, nil }

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []dispatcher.BuildRequest
	err  error
}

func (s *recordingSubmitter) Submit(req dispatcher.BuildRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reqs = append(s.reqs, req)
	return nil
}

func newTestServer(repo store.ProgressRepository, sub Submitter, cfg Config) *Server {
	return NewServer(repo, sub, fakeIDGen{}, fakeClock{now: time.Unix(100, 0).UTC()}, cfg, zap.NewNop())
}

func TestServer_SubmitTile_Succeeds(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	sub := &recordingSubmitter{}
	server := newTestServer(repo, sub, Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/tiles", bytes.NewBufferString(`{"lat":45,"lon":-123}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, fixedRunID.String(), body["run_id"])
	require.Equal(t, "+45-123", body["tile"])

	require.Len(t, sub.reqs, 1)
	require.Equal(t, fixedRunID, sub.reqs[0].RunID)
	require.Equal(t, -123, sub.reqs[0].Tile.Lon)

	run, err := repo.GetRun(req.Context(), fixedRunID)
	require.NoError(t, err)
	require.Equal(t, store.RunQueued, run.Status)
}

func TestServer_SubmitTile_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: "{invalid", want: "invalid JSON"},
		{name: "missing lon", body: `{"lat":1}`, want: "lat and lon are required"},
		{name: "out of range", body: `{"lat":90,"lon":0}`, want: "latitude 90 out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sub := &recordingSubmitter{}
			server := newTestServer(memory.NewRunStore(), sub, Config{})
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tiles", bytes.NewBufferString(tt.body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
			require.Empty(t, sub.reqs)
		})
	}
}

func TestServer_SubmitTile_DispatcherClosed(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	server := newTestServer(repo, &recordingSubmitter{err: dispatcher.ErrClosed}, Config{})
	req := httptest.NewRequest(http.MethodPost, "/v1/tiles", bytes.NewBufferString(`{"lat":0,"lon":0}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	run, err := repo.GetRun(req.Context(), fixedRunID)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status, "rejected runs are closed out")
}

func TestServer_HealthAndReady(t *testing.T) {
	t.Parallel()

	server := newTestServer(memory.NewRunStore(), &recordingSubmitter{}, Config{})
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}

	notReady := newTestServer(nil, nil, Config{})
	rec := httptest.NewRecorder()
	notReady.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(memory.NewRunStore(), &recordingSubmitter{}, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(memory.NewRunStore(), &recordingSubmitter{}, Config{APIKey: "secret"})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tiles", bytes.NewBufferString(`{"lat":1,"lon":1}`)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/tiles", bytes.NewBufferString(`{"lat":1,"lon":1}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code, "probes bypass the API key")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(memory.NewRunStore(), &recordingSubmitter{}, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	require.NoError(t, err)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.Error(t, err)

	hj := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: hj}
	conn, _, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, hj.CloseClient())
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return errors.New("no client")
	}
	return h.client.Close()
}

type denyLimiter struct {
	mu   sync.Mutex
	keys []string
}

func (l *denyLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return false
}

func (*denyLimiter) RetryAfter(string) time.Duration { return 1500 * time.Millisecond }

func TestServer_SubmitTile_Throttled(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	sub := &recordingSubmitter{}
	limiter := &denyLimiter{}
	server := newTestServer(repo, sub, Config{Limiter: limiter})

	req := httptest.NewRequest(http.MethodPost, "/v1/tiles", bytes.NewBufferString(`{"lat":45,"lon":-123}`))
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))
	require.Empty(t, sub.reqs)
	require.Equal(t, []string{"ip:203.0.113.7"}, limiter.keys)

	keyed := httptest.NewRequest(http.MethodPost, "/v1/tiles", bytes.NewBufferString(`{"lat":45,"lon":-123}`))
	keyed.Header.Set("X-API-Key", "abc")
	server.Handler().ServeHTTP(httptest.NewRecorder(), keyed)
	require.Equal(t, "key:abc", limiter.keys[1])

	get := httptest.NewRequest(http.MethodGet, "/v1/runs/"+fixedRunID.String(), nil)
	server.Handler().ServeHTTP(httptest.NewRecorder(), get)
	require.Len(t, limiter.keys, 2, "only submissions are throttled")
}
