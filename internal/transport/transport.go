// Package transport exposes the service over HTTP: CRUD and batch-patch
// routes under /data, server-sent events under /sse, a WebSocket protocol
// at /ws mirroring the upstream bigjson subprotocol, plus /health and
// /metrics.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sunli829/bigjson/internal/config"
	"github.com/sunli829/bigjson/internal/metrics"
	"github.com/sunli829/bigjson/internal/pointer"
	"github.com/sunli829/bigjson/internal/service"
)

// Server adapts a *service.Service to net/http and a raw TCP WebSocket
// upgrade, the way the teacher's shared.Server adapts its connection pool
// and worker pool to a net/http mux.
type Server struct {
	svc *service.Service
	met *metrics.Metrics
	log zerolog.Logger

	maxConnections int
	connSem        chan struct{}
	connLimiter    *rate.Limiter
}

// New builds a Server.
func New(cfg *config.Config, svc *service.Service, met *metrics.Metrics, log zerolog.Logger) *Server {
	return &Server{
		svc:            svc,
		met:            met,
		log:            log.With().Str("component", "transport").Logger(),
		maxConnections: cfg.MaxConnections,
		connSem:        make(chan struct{}, cfg.MaxConnections),
		connLimiter:    rate.NewLimiter(rate.Limit(cfg.ConnectionRateLimit), cfg.ConnectionRateBurst),
	}
}

// Handler builds the routing table. gatherer is mounted at /metrics; pass
// nil to omit it (tests that don't care about Prometheus scraping).
func (s *Server) Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/data", s.instrument("data", s.handleData))
	mux.HandleFunc("/data/", s.instrument("data", s.handleData))
	mux.HandleFunc("/sse", s.instrument("sse", s.handleSSE))
	mux.HandleFunc("/sse/", s.instrument("sse", s.handleSSE))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.instrument("health", s.handleHealth))
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// instrument wraps h to record bigjson_http_requests_total by route and
// status class, the same concern ws/metrics.go's handleMetrics endpoint
// exists to expose but without a request-counting middleware of its own to
// crib from; this is new code grounded on the same counter-per-label shape
// as the rest of internal/metrics.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.met != nil {
			s.met.HTTPRequests.WithLabelValues(route, statusClass(rec.status)).Inc()
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

// parsePath strips mountPrefix from r's URL path and parses the remainder
// as a JSON Pointer, matching the upstream server's normalize_path (an
// empty remainder means the document root). Trailing slashes are trimmed
// first so e.g. /data/room/ addresses the same key as /data/room.
func parsePath(urlPath, mountPrefix string) (pointer.Path, error) {
	rest := strings.TrimPrefix(urlPath, mountPrefix)
	rest = strings.TrimRight(rest, "/")
	return pointer.Parse(rest)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

var (
	errTooManyConnections   = fmt.Errorf("connection limit reached")
	errStreamingUnsupported = fmt.Errorf("streaming not supported by response writer")
)
