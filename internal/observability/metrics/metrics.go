package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and durations for HTTP requests. It
// coordinates concurrent writers via a RWMutex and renders a Prometheus-style
// text exposition on demand.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
	}
}

// Default returns the shared process-wide recorder.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records a completed HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	label := requestLabel{method: method, path: path, status: strconv.Itoa(status)}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
}

// Handler exposes the recorder in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, fmt.Sprintf("method %s not allowed", req.Method), http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		if req.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		r.write(w)
	})
}

func (r *Recorder) write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})

	fmt.Fprintln(w, "# HELP assetvault_http_requests_total Total HTTP requests processed.")
	fmt.Fprintln(w, "# TYPE assetvault_http_requests_total counter")
	for _, label := range labels {
		fmt.Fprintf(w, "assetvault_http_requests_total{method=%q,path=%q,status=%q} %d\n",
			label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP assetvault_http_request_duration_seconds_sum Cumulative request duration in seconds.")
	fmt.Fprintln(w, "# TYPE assetvault_http_request_duration_seconds_sum counter")
	for _, label := range labels {
		fmt.Fprintf(w, "assetvault_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n",
			label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}
}

// RequestCount returns the recorded count for the given labels, primarily for
// tests and health introspection.
func (r *Recorder) RequestCount(method, path string, status int) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.requestCount[requestLabel{method: method, path: path, status: strconv.Itoa(status)}]
}
