package core

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestDurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devgate",
		Name:      "http_requests_total",
		Help:      "Total number of requests handled by the dev server, by handler and status code.",
	}, []string{"handler", "method", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devgate",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of requests handled by the dev server in seconds.",
		Buckets:   requestDurationBuckets,
	}, []string{"handler"})

	proxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devgate",
		Name:      "proxy_requests_total",
		Help:      "Requests forwarded upstream, by rule prefix and upstream status code.",
	}, []string{"mode", "rule", "code"})

	proxyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devgate",
		Name:      "proxy_upstream_errors_total",
		Help:      "Upstream failures by rule prefix and kind.",
	}, []string{"mode", "rule", "kind"})

	trafficRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devgate",
		Name:      "traffic_recorded_total",
		Help:      "Exchanges written to the traffic log.",
	}, []string{"mode"})

	trafficDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devgate",
		Name:      "traffic_dropped_total",
		Help:      "Exchanges that could not be written to the traffic log.",
	}, []string{"reason"})

	ruleReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devgate",
		Name:      "rule_reloads_total",
		Help:      "Proxy rule table reloads by result.",
	}, []string{"result"})

	activeRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "devgate",
		Name:      "proxy_rules",
		Help:      "Number of active proxy rules.",
	})
)

// RecordRuleReload counts a reload attempt and, on success, the new rule count.
func RecordRuleReload(ok bool, rules int) {
	if !ok {
		ruleReloads.WithLabelValues("error").Inc()
		return
	}
	ruleReloads.WithLabelValues("ok").Inc()
	activeRules.Set(float64(rules))
}

// WithMetrics counts and times every request served by next under the given handler label.
func WithMetrics(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		httpRequests.WithLabelValues(handler, r.Method, strconv.Itoa(sw.status())).Inc()
		httpDuration.WithLabelValues(handler).Observe(time.Since(start).Seconds())
	})
}

// statusWriter remembers the status code. It forwards Flush and Hijack so streaming
// responses and websocket upgrades keep working.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	if w.code == 0 {
		w.code = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
