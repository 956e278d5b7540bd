// Package httpapi serves the session lifecycle, raw snapshots and the MCP
// tool surface over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/operator/ratelimit"
	"github.com/hazyhaar/operator/session"
)

// Config wires the API.
type Config struct {
	Registry *session.Registry
	// MCP serves /mcp when set.
	MCP http.Handler
	// Limiter guards session creation and /mcp when set.
	Limiter ratelimit.Limiter
	// MaxBody caps request bodies; 0 means 1 MiB.
	MaxBody int64
	Logger  *slog.Logger
}

// New returns the API router.
func New(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 1 << 20
	}
	a := &api{reg: cfg.Registry, logger: cfg.Logger}

	limited := func(h http.Handler) http.Handler { return h }
	if cfg.Limiter != nil {
		limited = ratelimit.Middleware(cfg.Limiter, ratelimit.ClientIP, cfg.Logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLog(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(maxBody(cfg.MaxBody))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", a.listSessions)
		r.With(limited).Post("/", a.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getSession)
			r.Delete("/", a.closeSession)
			r.Get("/snapshot", a.snapshot)
			r.Get("/actions", a.actions)
		})
	})

	if cfg.MCP != nil {
		r.With(limited).Handle("/mcp", cfg.MCP)
		r.With(limited).Handle("/mcp/*", cfg.MCP)
	}
	return r
}

type api struct {
	reg    *session.Registry
	logger *slog.Logger
}

// listSessions returns the live sessions, or every persisted session with
// ?history=1.
func (a *api) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("history") == "" {
		writeJSON(w, http.StatusOK, a.reg.List())
		return
	}
	st := a.reg.Store()
	if st == nil {
		writeJSON(w, http.StatusOK, []session.Record{})
		return
	}
	recs, err := st.Sessions(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []session.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *api) createSession(w http.ResponseWriter, r *http.Request) {
	info, err := a.reg.Create(r.Context())
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, info := range a.reg.List() {
		if info.ID == id {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	if st := a.reg.Store(); st != nil {
		rec, err := st.Session(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
		if !errors.Is(err, session.ErrUnknownSession) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeError(w, http.StatusNotFound, session.ErrUnknownSession)
}

func (a *api) closeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.reg.CloseSession(r.Context(), id); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed", "id": id})
}

// snapshot captures a fresh snapshot of the session's page. The raw tree is
// returned as JSON, or the indexed listing with ?format=text. ?highlight=1
// also paints the overlay. The snapshot becomes the session's latest one.
func (a *api) snapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	highlight, _ := strconv.ParseBool(q.Get("highlight"))

	var (
		body  []byte
		ctype string
		count int
	)
	err := a.reg.Do(r.Context(), id, func(ctx context.Context, s *session.Session) error {
		obs, err := s.Actions().Observe(ctx, highlight)
		if err != nil {
			return err
		}
		s.SetSnapshot(obs.Snapshot)
		count = obs.Snapshot.Len()
		if q.Get("format") == "text" {
			body, ctype = []byte(obs.Snapshot.Render()), "text/plain; charset=utf-8"
			return nil
		}
		body, err = json.Marshal(obs.Raw)
		ctype = "application/json"
		return err
	})
	if err != nil {
		loggerFrom(r.Context()).Warn("httpapi: snapshot", "session", id, "error", err)
		writeError(w, statusOf(err), err)
		return
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("X-Interactive-Count", strconv.Itoa(count))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (a *api) actions(w http.ResponseWriter, r *http.Request) {
	st := a.reg.Store()
	if st == nil {
		writeJSON(w, http.StatusOK, []session.Action{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	acts, err := st.Actions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if acts == nil {
		acts = []session.Action{}
	}
	writeJSON(w, http.StatusOK, acts)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
