package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adam5421/SmartAIExam/internal/auth"
	"github.com/Adam5421/SmartAIExam/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartexam"

// Collector owns the process metrics registry and writes the access log.
// It also receives paper generation and import outcomes from the services.
type Collector struct {
	registry *prometheus.Registry
	log      *logger.Logger

	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	papers       *prometheus.CounterVec
	importedRows *prometheus.CounterVec
}

func NewCollector(db *sql.DB, log *logger.Logger) *Collector {
	if log == nil {
		log = logger.Nop()
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		log:      log.With("component", "http"),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "path"}),
		papers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paper_generations_total",
			Help:      "Paper generation attempts by outcome.",
		}, []string{"outcome"}),
		importedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Parsed import rows by classification.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(
		c.requests,
		c.latency,
		c.papers,
		c.importedRows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if db != nil {
		c.registry.MustRegister(collectors.NewDBStatsCollector(db, namespace))
	}
	return c
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		path := routePattern(r)

		c.requests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		c.latency.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())

		userID := ""
		if u, ok := auth.CurrentUser(r.Context()); ok {
			userID = u.ID
		}
		c.log.Info("request",
			"request_id", middleware.GetReqID(r.Context()),
			"user_id", userID,
			"method", r.Method,
			"path", path,
			"status", status,
			"latency_ms", float64(elapsed.Microseconds())/1000.0,
			"remote_ip", strings.TrimSpace(r.RemoteAddr),
		)
	})
}

func (c *Collector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) PaperGenerated(outcome string) {
	c.papers.WithLabelValues(outcome).Inc()
}

func (c *Collector) ImportClassified(status string, n int) {
	if n <= 0 {
		return
	}
	c.importedRows.WithLabelValues(status).Add(float64(n))
}

// routePattern prefers the matched chi pattern so label cardinality stays bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizedPath(r.URL.Path)
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
