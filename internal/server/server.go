package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jpalmerr/imgpreload/hints"
	"github.com/jpalmerr/imgpreload/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	// maxPreloadBody caps POST /api/preload request bodies.
	maxPreloadBody = 1 << 20

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "Image Preloading"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"
)

// PreloadFunc starts a background run for urls.
type PreloadFunc func(urls []string)

// HintFunc returns the image URLs to hint for a page, or nil when the page
// gets no hints.
type HintFunc func(pageID, kind string) []string

// Config configures a [Server].
type Config struct {
	// Port is the TCP port to listen on. Zero picks a free port.
	Port int

	// Assets contains assets/index.html. The dashboard is disabled when nil.
	Assets fs.FS

	// Title is the dashboard title. Defaults to "Image Preloading".
	Title string

	// Preload handles POST /api/preload. The route is disabled when nil.
	Preload PreloadFunc

	// Hints handles GET /hints. The route is disabled when nil.
	Hints HintFunc

	// Debug adds diagnostic comments around rendered hints.
	Debug bool

	// Metrics serves GET /metrics. The route is disabled when nil.
	Metrics http.Handler

	Logger *slog.Logger
}

// Server handles HTTP requests for the preload dashboard and API.
//
// Routes:
//   - GET /: Serves the embedded dashboard HTML
//   - GET /api/outcomes: Latest outcome per URL as JSON
//   - GET /api/runs: Recent run summaries as JSON, newest first
//   - GET /api/sse: Server-Sent Events stream of outcomes
//   - POST /api/preload: Queues additional URLs
//   - GET /hints: Link preload markup for a page
//   - GET /metrics: Prometheus metrics
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      store.Store
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	ln         net.Listener
	addr       net.Addr
	done       chan struct{}

	errMu sync.Mutex
	err   error
}

// NewServer creates a new HTTP [Server].
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  st,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/outcomes", s.handleOutcomes)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/sse", s.handleSSE)

	if s.cfg.Preload != nil {
		mux.HandleFunc("/api/preload", s.handlePreload)
	}
	if s.cfg.Hints != nil {
		mux.HandleFunc("/hints", s.handleHints)
	}
	if s.cfg.Metrics != nil {
		mux.Handle("/metrics", s.cfg.Metrics)
	}
	if s.cfg.Assets != nil {
		mux.HandleFunc("/", s.handleDashboard)
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. When ctx is cancelled, or serving fails, the server shuts
// down gracefully with a 5-second timeout, then [Server.Done] is closed and
// [Server.Err] reports the failure.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}
	s.ln = ln
	s.addr = ln.Addr()

	serveCtx, stop := context.WithCancel(ctx)

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from serveCtx so SSE handlers end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return serveCtx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
			s.setErr(fmt.Errorf("http server: %w", err))
			stop()
		}
	}()

	go func() {
		defer close(s.done)
		defer stop()
		<-serveCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
			s.setErr(fmt.Errorf("http server shutdown: %w", err))
		}
	}()

	return nil
}

// Err returns the error that stopped the server, or nil when it stopped
// because its context was cancelled. Meaningful once [Server.Done] is closed.
func (s *Server) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Server) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Addr returns the bound address. nil before [Server.Start].
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Done is closed once shutdown has finished.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// handleDashboard serves the main dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	content, err := fs.ReadFile(s.cfg.Assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	title := s.cfg.Title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// handleOutcomes returns the latest outcome per URL as JSON.
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.GetAll())
}

// handleRuns returns recent run summaries as JSON.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Runs())
}

type preloadRequest struct {
	URLs []string `json:"urls"`
}

type preloadResponse struct {
	Accepted int `json:"accepted"`
}

// handlePreload queues a background run for the posted URLs.
func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req preloadRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPreloadBody))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		http.Error(w, "urls must contain at least one url", http.StatusUnprocessableEntity)
		return
	}

	s.cfg.Preload(urls)
	s.logger.Info("preload queued", "images", len(urls))
	s.writeJSON(w, http.StatusAccepted, preloadResponse{Accepted: len(urls)})
}

// handleHints renders link preload markup for the page named in the query.
// Responds 204 when the page gets no hints.
func (s *Server) handleHints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	urls := s.cfg.Hints(q.Get("page_id"), q.Get("kind"))
	if len(urls) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := hints.Render(w, urls, hints.Options{Debug: s.cfg.Debug}); err != nil {
		s.logger.Error("failed to write hints response", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleSSE streams outcome updates via Server-Sent Events.
//
// Writes carry a deadline so a slow or disconnected client cannot block the
// handler past shutdown.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// current state first, then live updates
	for _, record := range s.store.GetAll() {
		data, err := json.Marshal(record)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case record, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(record)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on client disconnect and on server shutdown
			return
		}
	}
}
