package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hooksched/internal/cronexpr"
	"hooksched/internal/domain"
	"hooksched/internal/history"
	"hooksched/internal/scheduler"
	"hooksched/internal/taskstore"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// TaskReader is the read side of the task store. The API never writes task files.
type TaskReader interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, path string) (*taskstore.Collection, error)
}

type StatusSource interface {
	Status() scheduler.Status
}

type Options struct {
	Tasks    TaskReader
	Status   StatusSource
	History  history.Repository // nil when history is disabled
	Registry *prometheus.Registry // served on /metrics; an empty one when nil
	Location *time.Location
	Now      func() time.Time
	Debug    bool
}

type Server struct {
	r    *chi.Mux
	opts Options
}

func NewServer(opts Options) http.Handler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, opts: opts}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/collections", s.listCollections)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{id}/attempts", s.taskAttempts)
		r.Get("/attempts", s.recentAttempts)
		r.Post("/cron/validate", s.validateCron)
	})

	// Debug routes (pprof)
	if opts.Debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if s.opts.Status == nil {
		http.Error(w, "scheduler not running", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Status.Status())
}

type collectionView struct {
	File    string `json:"file"`
	Tasks   int    `json:"tasks"`
	Enabled int    `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	paths, err := s.opts.Tasks.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]collectionView, 0, len(paths))
	for _, p := range paths {
		v := collectionView{File: filepath.Base(p)}
		c, err := s.opts.Tasks.Load(r.Context(), p)
		if err != nil {
			v.Error = err.Error()
			out = append(out, v)
			continue
		}
		v.Tasks = len(c.Tasks)
		for _, t := range c.Tasks {
			if t.Enabled {
				v.Enabled++
			}
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type taskView struct {
	Collection   string          `json:"collection"`
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Enabled      bool            `json:"enabled"`
	Kind         string          `json:"kind"`
	Expr         string          `json:"expr,omitempty"`
	EverySeconds float64         `json:"every_seconds,omitempty"`
	At           string          `json:"at,omitempty"`
	AgentID      json.RawMessage `json:"agent_id,omitempty"`
	Channel      json.RawMessage `json:"channel,omitempty"`
	To           json.RawMessage `json:"to,omitempty"`
	LastRunAt    *time.Time      `json:"last_run_at,omitempty"`
	RunCount     int             `json:"run_count"`
	MaxRuns      int             `json:"max_runs,omitempty"`
	Due          bool            `json:"due"`
	NextRunAt    *time.Time      `json:"next_run_at,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	paths, err := s.opts.Tasks.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	filter := r.URL.Query().Get("collection")
	now := s.opts.Now().In(s.opts.Location)

	out := []taskView{}
	for _, p := range paths {
		name := filepath.Base(p)
		if filter != "" && filter != name {
			continue
		}
		c, err := s.opts.Tasks.Load(r.Context(), p)
		if err != nil {
			continue
		}
		for _, t := range c.Tasks {
			out = append(out, s.viewTask(name, t, now))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) viewTask(collection string, t domain.Task, now time.Time) taskView {
	v := taskView{
		Collection:   collection,
		ID:           t.ID,
		Name:         t.Name,
		Enabled:      t.Enabled,
		Kind:         t.Schedule.Kind,
		Expr:         t.Schedule.Expr,
		EverySeconds: t.Schedule.Every.Seconds(),
		At:           t.Schedule.At,
		AgentID:      t.AgentID,
		Channel:      t.Channel,
		To:           t.To,
		LastRunAt:    t.LastRunAt,
		RunCount:     t.RunCount,
		MaxRuns:      t.MaxRuns,
		NextRunAt:    scheduler.NextRun(t, now, s.opts.Location),
	}
	due, err := scheduler.IsDue(t, now, s.opts.Location)
	if err != nil {
		v.Error = err.Error()
	}
	v.Due = due
	return v
}

func (s *Server) recentAttempts(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	attempts, err := s.opts.History.ListRecent(r.Context(), limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) taskAttempts(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	id := chi.URLParam(r, "id")
	attempts, err := s.opts.History.ListByTask(r.Context(), id, limitParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

type validateReq struct {
	Expr string `json:"expr"`
}

type validateResp struct {
	Expr        string           `json:"expr"`
	Valid       bool             `json:"valid"`
	Error       string           `json:"error,omitempty"`
	Fields      map[string][]int `json:"fields,omitempty"`
	MatchesNow  bool             `json:"matches_now"`
	StrictError string           `json:"strict_error,omitempty"`
	NextRunAt   *time.Time       `json:"next_run_at,omitempty"`
}

// validateCron reports how the matcher reads an expression, and whether the
// standard parser, which enforces field bounds, agrees.
func (s *Server) validateCron(w http.ResponseWriter, r *http.Request) {
	var req validateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Expr == "" {
		http.Error(w, "expr is required", http.StatusBadRequest)
		return
	}

	resp := validateResp{Expr: req.Expr}
	e, err := cronexpr.Parse(req.Expr)
	if err != nil {
		resp.Error = err.Error()
		status := http.StatusUnprocessableEntity
		if !errors.Is(err, cronexpr.ErrFieldCount) && !errors.Is(err, cronexpr.ErrParse) {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, resp)
		return
	}

	now := s.opts.Now().In(s.opts.Location)
	resp.Valid = true
	resp.MatchesNow = e.Matches(now)
	resp.Fields = map[string][]int{
		"minute":       e.Minute.Values(),
		"hour":         e.Hour.Values(),
		"day_of_month": e.Dom.Values(),
		"month":        e.Month.Values(),
		"day_of_week":  e.Dow.Values(),
	}
	if err := scheduler.ValidateCronExpression(req.Expr); err != nil {
		resp.StrictError = err.Error()
	}
	resp.NextRunAt = scheduler.NextCronRun(req.Expr, now)
	writeJSON(w, http.StatusOK, resp)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
