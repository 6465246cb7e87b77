package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ranker/internal/model"
	"github.com/sells-group/lead-ranker/internal/pipeline"
	"github.com/sells-group/lead-ranker/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ranking HTTP API",
	Long:  "Serves ranking runs over HTTP. POST /api/runs streams progress events as SSE; completed runs are queryable by id.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := buildRouter(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func buildRouter(env *engine) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/api/runs", handleCreateRun(env))
	r.Get("/api/runs", handleListRuns(env))
	r.Get("/api/runs/{id}", handleGetRun(env))
	r.Get("/api/runs/{id}/leads", handleGetRunLeads(env))
	r.Get("/api/runs/{id}/usage", handleGetRunUsage(env))
	return r
}

// createRunRequest is the POST /api/runs body.
type createRunRequest struct {
	Persona     string   `json:"persona"`
	TopN        int      `json:"top_n"`
	MinScore    *float64 `json:"min_score"`
	IngestionID string   `json:"ingestion_id"`
}

// handleCreateRun executes a ranking run synchronously, streaming progress
// events to the client as SSE frames. The final frame carries the payload.
func handleCreateRun(env *engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Persona == "" {
			writeError(w, http.StatusBadRequest, "persona is required")
			return
		}

		topN := req.TopN
		if topN <= 0 {
			topN = cfg.Ranking.DefaultTopN
		}
		minScore := cfg.Ranking.DefaultMinScore
		if req.MinScore != nil {
			minScore = *req.MinScore
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		// The sink runs on scheduler goroutines; serialize writes.
		var mu sync.Mutex
		writeFrame := func(v any) {
			data, err := json.Marshal(v)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}

		payload, err := env.orchestrator.Execute(r.Context(), pipeline.RunParams{
			PersonaSpec: req.Persona,
			TopN:        topN,
			MinScore:    minScore,
			IngestionID: req.IngestionID,
		}, func(ev model.ProgressEvent) {
			writeFrame(ev)
		})
		if err != nil {
			// Failure and cancellation frames were already emitted by the
			// orchestrator; nothing more to send.
			zap.L().Warn("api run aborted", zap.Error(err))
			return
		}

		writeFrame(struct {
			Type    string            `json:"type"`
			Payload *model.RunPayload `json:"payload"`
		}{Type: "payload", Payload: payload})
	}
}

func handleListRuns(env *engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := runFilterFromQuery(r)
		runs, err := env.store.ListRuns(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	}
}

func handleGetRun(env *engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := env.store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		resp := map[string]any{"run": run}
		if persona, err := env.store.GetPersona(r.Context(), run.PersonaID); err == nil {
			resp["persona"] = persona
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetRunLeads(env *engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")
		leads, err := env.store.GetRankedLeads(r.Context(), runID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "leads": leads})
	}
}

func handleGetRunUsage(env *engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")
		entries, err := env.store.RunUsage(r.Context(), runID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var totalCost float64
		var inputTokens, outputTokens int64
		for _, e := range entries {
			totalCost += e.CostUSD
			inputTokens += e.InputTokens
			outputTokens += e.OutputTokens
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":         runID,
			"entries":        entries,
			"total_cost_usd": totalCost,
			"input_tokens":   inputTokens,
			"output_tokens":  outputTokens,
		})
	}
}

func runFilterFromQuery(r *http.Request) store.RunFilter {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Limit:  50,
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		filter.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		filter.Offset = n
	}
	return filter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
