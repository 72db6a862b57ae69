package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"epddash/internal/battery"
	"epddash/internal/config"
	"epddash/internal/ics"
	appLog "epddash/internal/log"
	"epddash/internal/model"
	"epddash/internal/screen"
)

// Server exposes the dashboard page, the rendered image and a small JSON API.
type Server struct {
	cfg     *config.Config
	columns *ics.Columns
	screen  *screen.Screen
	battery battery.Reader
	loc     *time.Location

	// now is replaceable in tests.
	now func() time.Time
}

// NewServer wires the handlers. screen and bat may be nil; the related
// endpoints then report 503.
func NewServer(cfg *config.Config, columns *ics.Columns, scr *screen.Screen, bat battery.Reader) *Server {
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
		loc = time.Local
	}
	return &Server{
		cfg:     cfg,
		columns: columns,
		screen:  scr,
		battery: bat,
		loc:     loc,
		now:     time.Now,
	}
}

// Handler returns the router with all middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			r.Use(s.basicAuth)
		}
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/image.png", s.handleImage)
		r.Get("/image.bin", s.handlePlane)
		r.Route("/api", func(r chi.Router) {
			r.Get("/columns", s.handleColumns)
			r.Get("/battery", s.handleBattery)
			r.Get("/hash", s.handleHash)
			r.Post("/render", s.handleRender)
		})
	})

	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Leaves room for POST /api/render, which waits on Chromium.
		WriteTimeout: s.cfg.CaptureTimeout() + 15*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen, "auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than lock everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="epddash", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleDashboard renders the HTML page that Chromium screenshots.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	cs := s.columns.Build(r.Context(), s.cfg.FeedURLs(), now)

	view := newDashboardView(cs, now, s.loc)
	view.Width = s.cfg.Capture.Width
	view.Height = s.cfg.Capture.Height
	if s.battery != nil {
		if st, err := s.battery.Read(r.Context()); err == nil {
			view.Battery = &st
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, view); err != nil {
		appLog.Error("dashboard template failed", err)
	}
}

type columnsResponse struct {
	Columns     model.ColumnSet  `json:"columns"`
	Feeds       []ics.FeedReport `json:"feeds"`
	GeneratedAt time.Time        `json:"generated_at"`
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	cs, reports := s.columns.BuildWithReport(r.Context(), s.cfg.FeedURLs(), now)
	writeJSON(w, http.StatusOK, columnsResponse{
		Columns:     cs,
		Feeds:       reports,
		GeneratedAt: now,
	})
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if s.battery == nil {
		writeError(w, http.StatusServiceUnavailable, "battery reader unavailable")
		return
	}
	st, err := s.battery.Read(r.Context())
	if err != nil {
		if errors.Is(err, battery.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "battery reader unavailable")
			return
		}
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleImage serves the latest 1-bit frame. The hash doubles as ETag.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.latestFrame()
	if !ok {
		http.Error(w, "no frame rendered yet", http.StatusNotFound)
		return
	}
	etag := `"` + frame.Hash + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame.Image)
}

// handlePlane serves the latest frame as a raw packed 1bpp plane for
// displays that blit bitmaps directly. Dimensions travel in headers.
func (s *Server) handlePlane(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.latestFrame()
	if !ok {
		http.Error(w, "no frame rendered yet", http.StatusNotFound)
		return
	}
	etag := `"` + frame.Hash + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Image-Width", strconv.Itoa(frame.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(frame.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame.Plane)
}

type hashResponse struct {
	Hash       string    `json:"hash"`
	RenderedAt time.Time `json:"rendered_at"`
}

func (s *Server) handleHash(w http.ResponseWriter, _ *http.Request) {
	frame, ok := s.latestFrame()
	if !ok {
		writeError(w, http.StatusNotFound, "no frame rendered yet")
		return
	}
	writeJSON(w, http.StatusOK, hashResponse{Hash: frame.Hash, RenderedAt: frame.RenderedAt})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if s.screen == nil {
		writeError(w, http.StatusServiceUnavailable, "renderer unavailable")
		return
	}
	frame, err := s.screen.Render(r.Context())
	if err != nil {
		appLog.Error("api render failed", err)
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	writeJSON(w, http.StatusOK, hashResponse{Hash: frame.Hash, RenderedAt: frame.RenderedAt})
}

func (s *Server) latestFrame() (screen.Frame, bool) {
	if s.screen == nil {
		return screen.Frame{}, false
	}
	return s.screen.Latest()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
