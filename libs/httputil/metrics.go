package httputil

import (
	"net/http"
	"strconv"
	"time"

	"github.com/samuel/go-metrics/metrics"
)

type metricsHandler struct {
	h            http.Handler
	statCounters map[int]*metrics.Counter
	statLatency  metrics.Histogram
}

// MetricsHandler wraps a handler to provide stats counters on response codes
// and a histogram of response latency.
func MetricsHandler(h http.Handler, registry metrics.Registry) http.Handler {
	m := &metricsHandler{
		h: h,
		statCounters: map[int]*metrics.Counter{
			http.StatusOK:                  metrics.NewCounter(),
			http.StatusBadRequest:          metrics.NewCounter(),
			http.StatusNotFound:            metrics.NewCounter(),
			http.StatusMethodNotAllowed:    metrics.NewCounter(),
			http.StatusInternalServerError: metrics.NewCounter(),
		},
		statLatency: metrics.NewUnbiasedHistogram(),
	}
	for code, counter := range m.statCounters {
		registry.Add("requests/response/"+strconv.Itoa(code), counter)
	}
	registry.Add("requests/latency", m.statLatency)
	return m
}

func (m *metricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	logrw := &loggingResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
	defer func() {
		m.statLatency.Update(time.Since(startTime).Nanoseconds() / 1e3)
		if counter := m.statCounters[logrw.statusCode]; counter != nil {
			counter.Inc(1)
		}
	}()
	m.h.ServeHTTP(logrw, r)
}
