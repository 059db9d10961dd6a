package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"mailtrack/internal/domain"
	"mailtrack/internal/service"
	"mailtrack/internal/store/memory"
)

const testKey = "k-0123456789abcdef"

type captureSink struct {
	mu   sync.Mutex
	jobs []domain.OpenJob
	then func(domain.OpenJob)
}

func (s *captureSink) Submit(job domain.OpenJob) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	if s.then != nil {
		s.then(job)
	}
}

func (s *captureSink) all() []domain.OpenJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OpenJob(nil), s.jobs...)
}

type testServer struct {
	handler http.Handler
	svc     *service.TrackingService
	sink    *captureSink
	now     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	ts.svc = &service.TrackingService{
		Store:       memory.New(),
		GracePeriod: service.DefaultGracePeriod,
		Now:         func() time.Time { return ts.now },
	}
	// apply opens synchronously so assertions see them
	ts.sink = &captureSink{then: func(job domain.OpenJob) {
		_, _, err := ts.svc.RecordOpen(context.Background(), job)
		require.NoError(t, err)
	}}

	s := New()
	(&API{Svc: ts.svc, TrustProxyHeaders: true}).Register(s.Mux)
	(&Pixel{Sink: ts.sink, TrustProxyHeaders: true, Now: func() time.Time { return ts.now }}).Register(s.Mux)
	ts.handler = s.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:51000"
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func authed() map[string]string { return map[string]string{"X-API-Key": testKey} }

func (ts *testServer) create(t *testing.T, subject string) domain.Record {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/emails", map[string]string{"subject": subject}, authed())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out domain.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestCreateAndGet(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "Q3 Report")
	assert.Equal(t, "Unknown", created.Recipient)
	assert.Equal(t, "http://example.com/track/"+created.TrackingID, created.TrackingURL)
	assert.NotNil(t, created.Opens)

	rec := ts.do(t, http.MethodGet, "/api/emails/"+created.ID, nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got["id"])
	assert.NotContains(t, got, "ownerKey")
	assert.NotContains(t, got, "senderIp")

	rec = ts.do(t, http.MethodGet, "/api/emails?apiKey="+testKey, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/emails", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ErrAPIKeyRequired, errorMessage(t, rec))
}

func TestCreate_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/emails", map[string]string{"recipient": "a@b.c"}, authed())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrSubjectRequired, errorMessage(t, rec))

	req := httptest.NewRequest(http.MethodPost, "/api/emails", strings.NewReader("{nope"))
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrInvalidJSON, errorMessage(t, w))
}

func TestOwnerScoping(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "mine")
	other := map[string]string{"X-API-Key": "someone-else"}

	rec := ts.do(t, http.MethodGet, "/api/emails/"+created.ID, nil, other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrNotFound, errorMessage(t, rec))

	rec = ts.do(t, http.MethodDelete, "/api/emails/"+created.ID, nil, other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "bye")

	rec := ts.do(t, http.MethodDelete, "/api/emails/"+created.ID, nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Email deleted successfully"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/emails/"+created.ID, nil, authed())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkSent(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "sent")

	rec := ts.do(t, http.MethodPost, "/api/emails/"+created.ID+"/sent", nil, authed())
	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.MarkSentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.SentAt.Equal(ts.now))

	rec = ts.do(t, http.MethodPost, "/api/emails/"+created.ID+"/sent", nil, authed())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/emails/trk_missing/sent", nil, authed())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegister(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/api/register", "/api/auth/generate-key"} {
		rec := ts.do(t, http.MethodPost, path, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp domain.RegisterResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.APIKey, 64)
		assert.True(t, strings.HasPrefix(resp.UserID, "usr_"))
	}
}

func TestRegister_RateLimited(t *testing.T) {
	svc := &service.TrackingService{Store: memory.New()}
	s := New()
	(&API{Svc: svc, RegisterLimiter: rate.NewLimiter(rate.Every(time.Hour), 1)}).Register(s.Mux)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/register", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func assertPixel(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store, no-cache, must-revalidate, private", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "0", rec.Header().Get("Expires"))
	assert.Equal(t, "42", rec.Header().Get("Content-Length"))
	assert.Equal(t, pixelGIF, rec.Body.Bytes())
}

func TestPixel_RecordsOpen(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "Q3 Report")

	ts.now = ts.now.Add(time.Hour)
	rec := ts.do(t, http.MethodGet, "/track/"+created.TrackingID, nil, map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 5.1; rv:11.0) Gecko Firefox/11.0 (via ggpht.com GoogleImageProxy)",
		"X-Forwarded-For": "::ffff:66.249.84.1, 10.0.0.1",
		"Via":             "1.1 google",
		"Accept":          "image/webp,*/*",
	})
	assertPixel(t, rec)

	jobs := ts.sink.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, "66.249.84.1", jobs[0].Fetch.IP)
	assert.True(t, jobs[0].Fetch.FetchedAt.Equal(ts.now))

	got, err := ts.svc.GetRecord(context.Background(), testKey, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Opens, 1)
	ev := got.Opens[0]
	assert.Equal(t, domain.OpenGmailProxy, ev.OpenType)
	assert.True(t, ev.Counted)
	assert.Equal(t, "Direct", ev.Referer)
	require.NotNil(t, ev.Headers.Via)
	assert.Equal(t, "1.1 google", *ev.Headers.Via)
	assert.Equal(t, 1, got.OpenCount)
}

func TestPixel_SelfViewFromSenderAddress(t *testing.T) {
	ts := newTestServer(t)
	created := ts.create(t, "mine")

	ts.now = ts.now.Add(time.Hour)
	// same RemoteAddr as the create request, no proxy headers
	rec := ts.do(t, http.MethodGet, "/track/"+created.TrackingID, nil, map[string]string{
		"User-Agent": "GoogleImageProxy",
	})
	assertPixel(t, rec)

	got, err := ts.svc.GetRecord(context.Background(), testKey, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Opens, 1)
	assert.True(t, got.Opens[0].IsSelfView)
	assert.Equal(t, 0, got.OpenCount)
}

func TestPixel_UnknownTrackingID(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/track/does-not-exist", nil, map[string]string{"User-Agent": "GoogleImageProxy"})
	assertPixel(t, rec)
}

func TestPixel_SinkNeverBlocksResponse(t *testing.T) {
	s := New()
	(&Pixel{Sink: &captureSink{}}).Register(s.Mux)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/track/abc", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodOptions, "/api/emails", nil, map[string]string{"Origin": "https://mail.google.com"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestReadyz(t *testing.T) {
	ok := httptest.NewRecorder()
	Readyz(time.Second, func(context.Context) error { return nil })(ok, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, ok.Code)

	bad := httptest.NewRecorder()
	Readyz(time.Second, func(context.Context) error { return errors.New("down") })(bad, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, bad.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::ffff:192.0.2.9]:443"
	req.Header.Set("X-Forwarded-For", "198.51.100.2, 10.0.0.1")

	assert.Equal(t, "198.51.100.2", clientIP(req, true))
	assert.Equal(t, "192.0.2.9", clientIP(req, false))
}
