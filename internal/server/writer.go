package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRequest = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ocipfs_request_duration_seconds",
		Help:    "HTTP requests with operation, response code, and duration until response status code is written, in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 30, 120},
	},
	[]string{
		"method",
		"op", // ping, manifests, blobs or invalid
		"code",
	},
)

var metricBlob = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ocipfs_blob_requests_total",
		Help: "Blob requests by how they were answered.",
	},
	[]string{
		"result", // redirect, config or error
	},
)

// statusWriter records a response's status code in the request metric when
// the header is written. For HEAD requests it also discards the body.
type statusWriter struct {
	W     http.ResponseWriter
	Start time.Time
	R     *http.Request

	Op string // Set by router.

	StatusCode int
}

func (w *statusWriter) Header() http.Header {
	return w.W.Header()
}

func (w *statusWriter) setStatusCode(statusCode int) {
	if w.StatusCode != 0 {
		return
	}

	method := strings.ToLower(w.R.Method)
	switch method {
	case "head", "get":
	default:
		method = "(other)"
	}
	w.StatusCode = statusCode
	metricRequest.WithLabelValues(method, w.Op, fmt.Sprintf("%d", w.StatusCode)).Observe(time.Since(w.Start).Seconds())
}

func (w *statusWriter) Write(buf []byte) (int, error) {
	w.setStatusCode(http.StatusOK)
	if w.R.Method == http.MethodHead {
		return len(buf), nil
	}
	return w.W.Write(buf)
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.setStatusCode(statusCode)
	w.W.WriteHeader(statusCode)
}
