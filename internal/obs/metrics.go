// Package obs holds the process-wide Prometheus metrics and HTTP
// instrumentation shared by the service.
package obs

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	presenceEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_events_total",
			Help: "Presence feed events applied, by event type.",
		},
		[]string{"type"},
	)

	malformedEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_malformed_events_total",
		Help: "Presence feed payloads dropped as malformed.",
	})

	openSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collab_open_sessions",
		Help: "Collaboration sessions currently open.",
	})
)

func Init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		presenceEventsTotal,
		malformedEventsTotal,
		openSessions,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func PresenceEventApplied(eventType string) {
	presenceEventsTotal.WithLabelValues(eventType).Inc()
}

func MalformedEventDropped() {
	malformedEventsTotal.Inc()
}

func SessionOpened() { openSessions.Inc() }
func SessionClosed() { openSessions.Dec() }

// Instrument records request counts and latencies around next.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the wrapped writer so websocket upgrades still work
// behind the instrumentation.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return hijacker.Hijack()
}
