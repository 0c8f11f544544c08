package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ticket-geocoder/internal/cache"
	"github.com/sells-group/ticket-geocoder/internal/model"
	"github.com/sells-group/ticket-geocoder/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API over the geocode cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate cache store")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(st),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(st cache.Store) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/statistics", func(w http.ResponseWriter, req *http.Request) {
		stats, err := st.Statistics(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	r.Get("/api/review-queue", func(w http.ResponseWriter, req *http.Request) {
		limit := queryInt(req, "limit", 100)
		records, err := st.Query(req.Context(), cache.Filter{
			Priorities: []model.ReviewPriority{
				model.PriorityCritical, model.PriorityHigh, model.PriorityMedium, model.PriorityLow,
			},
			CurrentOnly: true,
			Limit:       limit,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pipeline.ReviewQueue(records))
	})

	r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		runs, err := st.ListRuns(req.Context(), queryInt(req, "limit", 20))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Route("/api/records/{ticket}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			rec, err := st.Current(req.Context(), chi.URLParam(req, "ticket"))
			if err != nil {
				writeError(w, err)
				return
			}
			if rec == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no record for ticket"})
				return
			}
			writeJSON(w, http.StatusOK, rec)
		})

		r.Get("/history", func(w http.ResponseWriter, req *http.Request) {
			history, err := st.History(req.Context(), chi.URLParam(req, "ticket"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, history)
		})

		r.Post("/lock", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Reason string `json:"reason"`
				Actor  string `json:"actor"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			if err := st.Lock(req.Context(), chi.URLParam(req, "ticket"), body.Reason, body.Actor); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
		})

		r.Post("/unlock", func(w http.ResponseWriter, req *http.Request) {
			if err := st.Unlock(req.Context(), chi.URLParam(req, "ticket")); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
		})
	})

	return r
}

func queryInt(req *http.Request, key string, fallback int) int {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch model.KindOf(err) {
	case model.KindInput:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case model.KindLocked:
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
