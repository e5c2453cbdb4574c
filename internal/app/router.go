package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/app/apiresp"
	"github.com/Adam5421/SmartAIExam/internal/app/observability"
	"github.com/Adam5421/SmartAIExam/internal/assistant"
	"github.com/Adam5421/SmartAIExam/internal/auth"
	"github.com/Adam5421/SmartAIExam/internal/db"
	"github.com/Adam5421/SmartAIExam/internal/importer"
	"github.com/Adam5421/SmartAIExam/internal/logger"
	"github.com/Adam5421/SmartAIExam/internal/oplog"
	"github.com/Adam5421/SmartAIExam/internal/paper"
	"github.com/Adam5421/SmartAIExam/internal/question"
	"github.com/Adam5421/SmartAIExam/internal/report"
	"github.com/Adam5421/SmartAIExam/internal/tag"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every service onto one chi router. ctx bounds background
// housekeeping such as rate-limiter sweeps.
func NewRouter(ctx context.Context, cfg Config, sqlDB *sql.DB, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	retry := db.Retrier{Attempts: cfg.StoreRetries, Timeout: cfg.StoreTimeout, Backoff: 50 * time.Millisecond}
	metrics := observability.NewCollector(sqlDB, log)

	logSvc := oplog.NewService(sqlDB, retry, log)
	tagSvc := tag.NewService(sqlDB, retry, logSvc, log)
	questionSvc := question.NewService(sqlDB, retry, logSvc, tagSvc, log, question.ServiceConfig{
		BatchConcurrency:    cfg.BatchConcurrency,
		SimilarityThreshold: cfg.SimilarityThreshold,
	})
	importSvc := importer.NewService(questionSvc, logSvc, metrics, log)
	paperSvc := paper.NewService(sqlDB, retry, questionSvc, logSvc, metrics, log)
	reportSvc := report.NewService(sqlDB, retry, log)
	aiSvc := assistant.NewService(assistant.ServiceConfig{
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
	}, log)
	authSvc := auth.NewService(auth.ServiceConfig{
		APITokenHash: cfg.APITokenHash,
		DefaultRole:  cfg.DefaultRole,
	})

	authHandler := auth.NewHandler(authSvc)
	questionHandler := question.NewHandler(questionSvc)
	importHandler := importer.NewHandler(importSvc, cfg.ImportMaxBytes)
	tagHandler := tag.NewHandler(tagSvc)
	paperHandler := paper.NewHandler(paperSvc)
	logHandler := oplog.NewHandler(logSvc)
	reportHandler := report.NewHandler(reportSvc)
	aiHandler := assistant.NewHandler(aiSvc)

	aiLimiter := NewKeyRateLimiter(cfg.AIRateLimitPerMin, time.Minute)
	go sweepEvery(ctx, aiLimiter, time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"ok": true}
		if sqlDB != nil {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := sqlDB.PingContext(pingCtx); err != nil {
				status = http.StatusServiceUnavailable
				body = map[string]any{"ok": false, "db": "unreachable"}
			}
		}
		apiresp.WriteJSON(w, status, body)
	})
	r.Handle("/metrics", metrics.MetricsHandler())

	editors := authHandler.RequireRoles(auth.RoleAdmin, auth.RoleEditor)
	reviewers := authHandler.RequireRoles(auth.RoleAdmin, auth.RoleReviewer)
	admins := authHandler.RequireRoles(auth.RoleAdmin)

	r.Group(func(api chi.Router) {
		api.Use(authHandler.Identify)

		api.Route("/questions", func(q chi.Router) {
			q.Get("/", questionHandler.List)
			q.Post("/check_duplicate", questionHandler.CheckDuplicate)
			q.Get("/export", questionHandler.Export)
			q.Post("/export", questionHandler.Export)
			q.Get("/{id}", questionHandler.Get)

			q.Group(func(w chi.Router) {
				w.Use(editors)
				w.Post("/", questionHandler.Create)
				w.Post("/batch_create", questionHandler.BatchCreate)
				w.Post("/parse_import", importHandler.ParseImport)
				w.Post("/import", importHandler.Import)
				w.Put("/{id}", questionHandler.Update)
				w.Delete("/{id}", questionHandler.Delete)
			})
			q.With(admins).Post("/batch", questionHandler.BatchOperate)
			q.With(reviewers).Post("/{id}/review", questionHandler.Review)
		})

		api.Route("/tags", func(t chi.Router) {
			t.Get("/", tagHandler.List)
			t.Get("/{id}", tagHandler.Get)
			t.With(editors).Post("/", tagHandler.Create)
			t.With(editors).Put("/{id}", tagHandler.Update)
			t.With(editors).Delete("/{id}", tagHandler.Delete)
		})

		api.Route("/rules", func(rr chi.Router) {
			rr.Get("/", paperHandler.ListRules)
			rr.Get("/{id}", paperHandler.GetRule)
			rr.With(editors).Post("/", paperHandler.CreateRule)
			rr.With(editors).Put("/{id}", paperHandler.UpdateRule)
			rr.With(editors).Delete("/{id}", paperHandler.DeleteRule)
		})

		api.Route("/papers", func(p chi.Router) {
			p.Get("/", paperHandler.ListPapers)
			p.Get("/{id}", paperHandler.GetPaper)
			p.Get("/{id}/export", paperHandler.Export)
			p.With(editors).Post("/generate", paperHandler.Generate)
		})

		api.Get("/logs", logHandler.List)
		api.Get("/reports/availability", reportHandler.Availability)

		api.Route("/ai", func(a chi.Router) {
			a.Use(editors)
			a.Use(RateLimitMiddleware(aiLimiter))
			a.Post("/generate", aiHandler.Generate)
			a.Post("/parse_file", aiHandler.ParseFile)
		})
	})

	return r
}

func sweepEvery(ctx context.Context, l *KeyRateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
