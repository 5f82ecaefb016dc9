package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/imgpreload/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore implements store.Store for testing.
type mockStore struct {
	mu          sync.RWMutex
	outcomes    []store.OutcomeRecord
	runs        []store.RunRecord
	subscribers map[chan store.OutcomeRecord]struct{}
	subMu       sync.Mutex
}

func newMockStore() *mockStore {
	return &mockStore{
		subscribers: make(map[chan store.OutcomeRecord]struct{}),
	}
}

func (m *mockStore) Update(record store.OutcomeRecord) {
	m.mu.Lock()
	found := false
	for i, o := range m.outcomes {
		if o.URL == record.URL {
			m.outcomes[i] = record
			found = true
			break
		}
	}
	if !found {
		m.outcomes = append(m.outcomes, record)
	}
	m.mu.Unlock()

	m.subMu.Lock()
	for ch := range m.subscribers {
		select {
		case ch <- record:
		default:
		}
	}
	m.subMu.Unlock()
}

func (m *mockStore) GetAll() []store.OutcomeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]store.OutcomeRecord, len(m.outcomes))
	copy(result, m.outcomes)
	return result
}

func (m *mockStore) AddRun(run store.RunRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append([]store.RunRecord{run}, m.runs...)
}

func (m *mockStore) Runs() []store.RunRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]store.RunRecord, len(m.runs))
	copy(result, m.runs)
	return result
}

func (m *mockStore) Subscribe() <-chan store.OutcomeRecord {
	ch := make(chan store.OutcomeRecord, 100)
	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

func (m *mockStore) Unsubscribe(ch <-chan store.OutcomeRecord) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// --- API Tests ---

func TestHandleOutcomes(t *testing.T) {
	ms := newMockStore()
	ms.Update(store.OutcomeRecord{URL: "/a.png", Status: "fulfilled"})
	reason := "timeout after 10s"
	ms.Update(store.OutcomeRecord{URL: "/b.png", Status: "rejected", Reason: "timeout", Error: &reason})

	srv := NewServer(ms, Config{Logger: testLogger()})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/outcomes", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var got []store.OutcomeRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(got))
	}
	if got[1].Reason != "timeout" || got[1].Error == nil {
		t.Errorf("rejected outcome = %+v", got[1])
	}
}

func TestHandleRuns(t *testing.T) {
	ms := newMockStore()
	ms.AddRun(store.RunRecord{RunID: "old", Total: 1})
	ms.AddRun(store.RunRecord{RunID: "new", Total: 2, Failures: []store.FailureRecord{{URL: "/x.png", Reason: "network-error"}}})

	srv := NewServer(ms, Config{Logger: testLogger()})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got []store.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "new" {
		t.Fatalf("runs = %+v, want newest first", got)
	}
	if len(got[0].Failures) != 1 || got[0].Failures[0].Reason != "network-error" {
		t.Errorf("failures = %+v", got[0].Failures)
	}
}

func TestReadOnlyRoutes_RejectOtherMethods(t *testing.T) {
	srv := NewServer(newMockStore(), Config{
		Logger: testLogger(),
		Hints:  func(string, string) []string { return []string{"/a.png"} },
	})

	for _, path := range []string{"/api/outcomes", "/api/runs", "/hints"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("POST %s status = %d, want 405", path, rec.Code)
			}
		})
	}
}

func TestHandlePreload(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		body     string
		wantCode int
		wantURLs []string
	}{
		{
			name:     "accepted",
			method:   http.MethodPost,
			body:     `{"urls":["/a.png"," ","https://cdn.example/b.png"]}`,
			wantCode: http.StatusAccepted,
			wantURLs: []string{"/a.png", "https://cdn.example/b.png"},
		},
		{
			name:     "invalid json",
			method:   http.MethodPost,
			body:     `{"urls":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty list",
			method:   http.MethodPost,
			body:     `{"urls":[]}`,
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "only blanks",
			method:   http.MethodPost,
			body:     `{"urls":["", "  "]}`,
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "wrong method",
			method:   http.MethodGet,
			wantCode: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			calls := 0
			srv := NewServer(newMockStore(), Config{
				Logger: testLogger(),
				Preload: func(urls []string) {
					calls++
					got = urls
				},
			})

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/api/preload", strings.NewReader(tt.body))
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantURLs == nil {
				if calls != 0 {
					t.Errorf("Preload called %d times, want 0", calls)
				}
				return
			}
			if calls != 1 {
				t.Fatalf("Preload called %d times, want 1", calls)
			}
			if strings.Join(got, ",") != strings.Join(tt.wantURLs, ",") {
				t.Errorf("Preload urls = %q, want %q", got, tt.wantURLs)
			}

			var resp preloadResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if resp.Accepted != len(tt.wantURLs) {
				t.Errorf("accepted = %d, want %d", resp.Accepted, len(tt.wantURLs))
			}
		})
	}
}

func TestHandlePreload_DisabledWithoutFunc(t *testing.T) {
	srv := NewServer(newMockStore(), Config{Logger: testLogger()})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/preload", strings.NewReader(`{"urls":["/a.png"]}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	tests := []struct {
		name     string
		metrics  http.Handler
		wantCode int
	}{
		{
			name: "mounted",
			metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "imgpreload_runs_total 0\n")
			}),
			wantCode: http.StatusOK,
		},
		{"disabled", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(newMockStore(), Config{Metrics: tt.metrics, Logger: testLogger()})
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestHandleHints(t *testing.T) {
	var gotID, gotKind string
	srv := NewServer(newMockStore(), Config{
		Logger: testLogger(),
		Hints: func(pageID, kind string) []string {
			gotID, gotKind = pageID, kind
			if pageID == "12" {
				return nil
			}
			return []string{"https://cdn.example/a.png", "/b.png"}
		},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hints?page_id=3&kind=single", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotID != "3" || gotKind != "single" {
		t.Errorf("HintFunc got (%q, %q), want (3, single)", gotID, gotKind)
	}
	body := rec.Body.String()
	if strings.Count(body, `<link rel="preload"`) != 2 {
		t.Errorf("expected two hints, got:\n%s", body)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hints?page_id=12&kind=page", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("excluded page status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("excluded page body = %q, want empty", rec.Body.String())
	}
}

func TestHandleHints_Debug(t *testing.T) {
	srv := NewServer(newMockStore(), Config{
		Logger: testLogger(),
		Debug:  true,
		Hints:  func(string, string) []string { return []string{"/a.png"} },
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hints", nil))
	if !strings.Contains(rec.Body.String(), "Link preload headers for 1 images") {
		t.Errorf("expected debug comment, got:\n%s", rec.Body.String())
	}
}

// --- SSE Tests ---

func TestHandleSSE_BasicFlow(t *testing.T) {
	ms := newMockStore()
	ms.Update(store.OutcomeRecord{URL: "/first.png", Status: "fulfilled"})
	ms.Update(store.OutcomeRecord{URL: "/second.png", Status: "rejected"})

	srv := NewServer(ms, Config{Logger: testLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "/first.png") || !strings.Contains(body, "/second.png") {
		t.Errorf("response should contain initial outcomes, got: %s", body)
	}
}

func TestHandleSSE_StreamsUpdates(t *testing.T) {
	ms := newMockStore()
	srv := NewServer(ms, Config{Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.handleSSE(rec, req)
		close(done)
	}()

	// give handler time to subscribe
	time.Sleep(50 * time.Millisecond)
	ms.Update(store.OutcomeRecord{URL: "/late.png", Status: "fulfilled"})
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	events := parseSSEEvents(rec.Body.String())
	if len(events) != 1 || events[0].URL != "/late.png" {
		t.Errorf("events = %+v, want the streamed update", events)
	}
}

func TestHandleSSE_ConcurrentClientsShutdown(t *testing.T) {
	ms := newMockStore()
	ms.Update(store.OutcomeRecord{URL: "/a.png", Status: "fulfilled"})

	srv := NewServer(ms, Config{Logger: testLogger()})
	serverCtx, serverCancel := context.WithCancel(context.Background())

	numClients := 10
	var wg sync.WaitGroup
	started := make(chan struct{})
	var startedCount atomic.Int32

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(serverCtx)
			rec := httptest.NewRecorder()

			if startedCount.Add(1) == int32(numClients) {
				close(started)
			}
			srv.handleSSE(rec, req)
		}()
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("clients did not start in time")
	}

	time.Sleep(100 * time.Millisecond)
	serverCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("not all handlers exited after shutdown")
	}
}

// nonFlushWriter is a ResponseWriter without http.Flusher.
type nonFlushWriter struct {
	header http.Header
	code   int
}

func (n *nonFlushWriter) Header() http.Header {
	if n.header == nil {
		n.header = make(http.Header)
	}
	return n.header
}

func (n *nonFlushWriter) Write(b []byte) (int, error) {
	return len(b), nil
}

func (n *nonFlushWriter) WriteHeader(statusCode int) {
	n.code = statusCode
}

func TestHandleSSE_SSENotSupported(t *testing.T) {
	srv := NewServer(newMockStore(), Config{Logger: testLogger()})

	w := &nonFlushWriter{}
	srv.handleSSE(w, httptest.NewRequest(http.MethodGet, "/api/sse", nil))

	if w.code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.code)
	}
}

func TestHandleSSE_Headers(t *testing.T) {
	srv := NewServer(newMockStore(), Config{Logger: testLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleSSE(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
}

func parseSSEEvents(body string) []store.OutcomeRecord {
	var records []store.OutcomeRecord
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var r store.OutcomeRecord
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &r); err == nil {
			records = append(records, r)
		}
	}
	return records
}

// --- Server Start Tests ---

func TestStart_ServesAndShutsDown(t *testing.T) {
	ms := newMockStore()
	ms.Update(store.OutcomeRecord{URL: "/a.png", Status: "fulfilled"})
	srv := NewServer(ms, Config{Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	port := srv.Addr().(*net.TCPAddr).Port
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/outcomes", port))
	if err != nil {
		t.Fatalf("GET /api/outcomes error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case <-srv.Done():
	case <-time.After(6 * time.Second):
		t.Fatal("Done() not closed after shutdown")
	}
	if err := srv.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after cancellation", err)
	}
}

func TestStart_ServeFailureClosesDoneWithError(t *testing.T) {
	srv := NewServer(newMockStore(), Config{Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// accept fails once the listener is gone
	_ = srv.ln.Close()

	select {
	case <-srv.Done():
	case <-time.After(6 * time.Second):
		t.Fatal("Done() not closed after serve failure")
	}
	if err := srv.Err(); err == nil || !strings.Contains(err.Error(), "http server") {
		t.Errorf("Err() = %v, want serve failure", err)
	}
}

func TestStart_ShutdownClosesSSEConnections(t *testing.T) {
	ms := newMockStore()
	srv := NewServer(ms, Config{Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	port := srv.Addr().(*net.TCPAddr).Port

	connDone := make(chan struct{})
	go func() {
		defer close(connDone)
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/sse", port))
		if err != nil {
			return
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-connDone:
	case <-time.After(3 * time.Second):
		t.Fatal("SSE connection did not close after server shutdown")
	}
}

func TestStart_PortInUse_ReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port
	srv := NewServer(newMockStore(), Config{Port: port, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = srv.Start(ctx)
	if err == nil {
		t.Fatal("Start() on occupied port should return error")
	}
	if !strings.Contains(err.Error(), "failed to bind") {
		t.Errorf("expected bind error, got: %v", err)
	}
}

func TestStart_InvalidPort_ReturnsError(t *testing.T) {
	srv := NewServer(newMockStore(), Config{Port: -1, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err == nil {
		t.Fatal("Start() with invalid port should return error")
	}
}

// --- Dashboard Tests ---

// mockFS implements fs.ReadFileFS for testing dashboard rendering.
type mockFS struct {
	content string
}

func (m *mockFS) Open(name string) (fs.File, error) {
	return nil, fs.ErrNotExist
}

func (m *mockFS) ReadFile(name string) ([]byte, error) {
	if name == "assets/index.html" {
		return []byte(m.content), nil
	}
	return nil, fs.ErrNotExist
}

func TestHandleDashboard(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		wantTitle string
	}{
		{"custom title", "Shop images", "<title>Shop images</title>"},
		{"default title", "", "<title>Image Preloading</title>"},
		{"escaped title", `<script>alert("x")</script>`, "<title>&lt;script&gt;"},
		{"ampersand", "Cats & Dogs", "<title>Cats &amp; Dogs</title>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(newMockStore(), Config{
				Assets: &mockFS{content: "<title>{{.Title}}</title>"},
				Title:  tt.title,
				Logger: testLogger(),
			})

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantTitle) {
				t.Errorf("body = %q, want to contain %q", rec.Body.String(), tt.wantTitle)
			}
		})
	}
}

func TestHandleDashboard_NonRootPath(t *testing.T) {
	srv := NewServer(newMockStore(), Config{
		Assets: &mockFS{content: "<title>{{.Title}}</title>"},
		Logger: testLogger(),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDashboard_AssetMissing(t *testing.T) {
	srv := NewServer(newMockStore(), Config{
		Assets: fsFunc(func(string) ([]byte, error) { return nil, fs.ErrNotExist }),
		Logger: testLogger(),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

type fsFunc func(name string) ([]byte, error)

func (f fsFunc) Open(name string) (fs.File, error)     { return nil, fs.ErrNotExist }
func (f fsFunc) ReadFile(name string) ([]byte, error) { return f(name) }
