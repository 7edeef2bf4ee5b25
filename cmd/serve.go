package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/pipeline"
	"github.com/sells-group/dealflow/internal/research"
	"github.com/sells-group/dealflow/internal/store"
	"github.com/sells-group/dealflow/internal/verify"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline API server",
	Long:  "Serves the search, verify, research, and board API. Queued research jobs also run on a schedule while the server is up.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if cfg.Research.IntervalSecs > 0 {
			g.Go(func() error {
				return runScheduled(gctx, env.Runner, cfg.Research.BatchSize,
					time.Duration(cfg.Research.IntervalSecs)*time.Second)
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
		env.Runner.DrainTriggers()
		return nil
	},
}

// runScheduled drains the job queue in batches on a fixed cadence until the
// context is cancelled. Batch errors are logged, not fatal.
func runScheduled(ctx context.Context, runner *research.Runner, batchSize int, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := runner.RunQueued(ctx, batchSize, research.Filter{})
			if err != nil {
				zap.L().Error("scheduled research batch failed", zap.Error(err))
				continue
			}
			if report.Attempted > 0 {
				zap.L().Info("scheduled research batch done",
					zap.Int("succeeded", report.Succeeded),
					zap.Int("failed", report.Failed),
				)
			}
		}
	}
}

// newRouter builds the API router.
func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/search", env.handleSearch)
	r.Post("/api/entities/{kind}/verify", env.handleVerify)
	r.Post("/api/jobs/run", env.handleRunJobs)
	r.Get("/api/jobs", env.handleListJobs)
	r.Get("/api/board", env.handleBoard)
	r.Post("/api/companies/{id}/phase", env.handleSetPhase)
	r.Get("/api/companies/{id}/phase", env.handleGetPhase)

	return r
}

func (e *appEnv) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Kind  string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if e.Source == nil {
		writeError(w, http.StatusServiceUnavailable, "candidate search is not configured")
		return
	}

	candidates, err := e.Source.Search(r.Context(), req.Query, kind)
	if err != nil {
		zap.L().Error("search failed", zap.String("query", req.Query), zap.Error(err))
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

func (e *appEnv) handleVerify(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Candidate  model.Candidate   `json:"candidate"`
		Attributes verify.Attributes `json:"attributes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entity, job, err := verify.VerifyAndQueue(r.Context(), e.Store, req.Candidate, kind, req.Attributes)
	if err != nil {
		if eris.Is(err, verify.ErrDuplicateEntity) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Research proceeds in the background; the response never waits on it.
	e.Runner.TriggerAsync(kind, entity.ID)

	writeJSON(w, http.StatusCreated, map[string]any{
		"entity": entity,
		"job":    job,
	})
}

func (e *appEnv) handleRunJobs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Max      int    `json:"max"`
		Kind     string `json:"kind"`
		EntityID string `json:"entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var filter research.Filter
	if req.Kind != "" {
		kind, err := model.ParseKind(req.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.EntityKind = kind
	}
	filter.EntityID = req.EntityID

	if req.Max < 0 {
		writeError(w, http.StatusBadRequest, "max must not be negative")
		return
	}
	maxJobs := req.Max
	if maxJobs == 0 {
		maxJobs = cfg.Research.BatchSize
	}

	report, err := e.Runner.RunQueued(r.Context(), maxJobs, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (e *appEnv) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		EntityID: r.URL.Query().Get("entity_id"),
		Limit:    50,
	}
	if k := r.URL.Query().Get("kind"); k != "" {
		kind, err := model.ParseKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.EntityKind = kind
	}
	if s := r.URL.Query().Get("status"); s != "" {
		filter.Status = model.JobStatus(s)
	}

	jobs, err := e.Store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (e *appEnv) handleBoard(w http.ResponseWriter, r *http.Request) {
	board, err := pipeline.BuildBoard(r.Context(), e.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (e *appEnv) handleSetPhase(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "id")

	var req struct {
		Phase string `json:"phase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	phase, err := model.ParsePhase(req.Phase)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := pipeline.SetPhase(r.Context(), e.Store, companyID, phase); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "company not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"company_id": companyID,
		"phase":      string(phase),
	})
}

func (e *appEnv) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "id")

	phase, err := pipeline.GetPhase(r.Context(), e.Store, companyID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "company not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"company_id": companyID,
		"phase":      string(phase),
		"column":     string(pipeline.Column(phase)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
