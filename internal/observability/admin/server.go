// Package admin serves the operator HTTP surface: health, metrics, run
// history, manual trigger and pprof.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"harvestbot/internal/observability/metrics"
	"harvestbot/internal/runner"
	"harvestbot/internal/storage"
	"harvestbot/pkg/logx"
)

const defaultAddr = "127.0.0.1:7070"

// Config controls the admin server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration // 0 keeps /debug/pprof/profile usable
	IdleTimeout  time.Duration
}

// Deps are the components the routes read from. Every field is optional.
type Deps struct {
	Metrics *metrics.Metrics
	Store   storage.Store
	// Trigger starts a manual run in the background. runner.ErrDeferred maps
	// to 202 and runner.ErrBusy to 409.
	Trigger func() error
	// Health returns the /healthz payload.
	Health func() any
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	return &Server{cfg: cfg, deps: deps, log: log}
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, s.accessLog)
	r.Get("/healthz", s.handleHealth)
	r.Get("/runs", s.handleRuns)
	r.Post("/trigger", s.handleTrigger)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return withAuth(s.cfg.Token, r)
}

// accessLog logs each request at debug, and 5xx responses at warn.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		fields := []logx.Field{
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Int("bytes", ww.BytesWritten()),
			logx.Duration("took", time.Since(start)),
		}
		if ww.Status() >= http.StatusInternalServerError {
			s.log.Warn("admin request failed", fields...)
			return
		}
		s.log.Debug("admin request", fields...)
	})
}

// Serve listens until ctx ends. The error is nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	token := strings.TrimSpace(s.cfg.Token)
	loopback := isLoopbackAddr(addr)
	if !loopback && token == "" {
		if !s.cfg.AllowInsecure {
			return errors.New("admin refused to start: non-loopback addr requires token or allow_insecure")
		}
		s.log.Warn("admin running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("admin started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", token != ""), logx.Bool("pprof", s.cfg.Pprof))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("admin stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Health())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, storage.ErrDisabled)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be within 1..1000"))
			return
		}
		limit = n
	}
	runs, err := s.deps.Store.RecentRuns(r.Context(), limit)
	if err != nil {
		s.log.Warn("admin runs query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trigger == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("trigger unavailable"))
		return
	}
	switch err := s.deps.Trigger(); {
	case err == nil:
		s.log.Info("manual run accepted", logx.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, runner.ErrDeferred):
		s.log.Info("manual run deferred", logx.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "deferred"})
	case errors.Is(err, runner.ErrBusy):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	match := func(got string) bool {
		return subtle.ConstantTimeCompare([]byte(got), []byte(tok)) == 1
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" && match(got) {
			h.ServeHTTP(w, r)
			return
		}
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") && match(strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))) {
			h.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
