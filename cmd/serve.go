package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cutting-params/internal/model"
	"github.com/sells-group/cutting-params/internal/pipeline"
	"github.com/sells-group/cutting-params/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recommendations over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		a, err := initAdvisor(ctx, "serve")
		if err != nil {
			return err
		}
		defer a.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(a.Pipeline, a.Store),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type recommender interface {
	Run(ctx context.Context, query string) *model.QueryResult
}

type runReader interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
}

const maxRequestBody = 1 << 20

// buildRouter wires the HTTP API. runs may be nil, in which case the run
// endpoints answer 404.
func buildRouter(rec recommender, runs runReader) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/recommend", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Query string `json:"query"`
			}
			if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody)).Decode(&body); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			query := pipeline.NormalizeQuery(body.Query)
			if query == "" {
				writeError(w, http.StatusBadRequest, "query is required")
				return
			}
			if rec == nil {
				writeError(w, http.StatusServiceUnavailable, "advisor not configured")
				return
			}
			writeJSON(w, http.StatusOK, rec.Run(req.Context(), query))
		})

		r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			if runs == nil {
				writeError(w, http.StatusNotFound, "run history disabled")
				return
			}
			q := req.URL.Query()
			limit, _ := strconv.Atoi(q.Get("limit"))
			offset, _ := strconv.Atoi(q.Get("offset"))
			list, err := runs.ListRuns(req.Context(), model.RunFilter{
				Status: model.RunStatus(q.Get("status")),
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				zap.L().Error("list runs failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "list runs failed")
				return
			}
			if list == nil {
				list = []model.Run{}
			}
			writeJSON(w, http.StatusOK, list)
		})

		r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			if runs == nil {
				writeError(w, http.StatusNotFound, "run history disabled")
				return
			}
			run, err := runs.GetRun(req.Context(), chi.URLParam(req, "id"))
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeError(w, http.StatusNotFound, "run not found")
			case err != nil:
				zap.L().Error("get run failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "get run failed")
			default:
				writeJSON(w, http.StatusOK, run)
			}
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
