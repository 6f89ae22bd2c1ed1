// Package metrics exposes Prometheus series for selection latency, retry
// counts, no-parent outcomes, config reloads and mark-up/mark-down events.
// The daemon records all of them except the mark-up/mark-down series.
package metrics

import (
	stdlog "log"
	"net/http"
	_ "net/http/pprof"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/v1siuol/trafficserver/pkg/telemetry/log"
)

type Recorder interface {
	ObserveSelectionDuration(strategy string, duration float64)
	IncRetryTotal(strategy string)
	IncMarkDownTotal(strategy, hostname, reason string)
	IncMarkUpTotal(strategy, hostname string)
	IncNoParentAvailable(strategy string)
	IncReloadTotal(strategy string, rejected bool)
}

type recorderImpl struct {
	selectionDuration  *prometheus.SummaryVec
	retryTotal         *prometheus.CounterVec
	markDownTotal      *prometheus.CounterVec
	markUpTotal        *prometheus.CounterVec
	noParentAvailable  *prometheus.CounterVec
	reloadTotal        *prometheus.CounterVec
}

func newRecorder() Recorder {
	return &recorderImpl{
		selectionDuration: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "nexthop_selection_duration_seconds",
			Help:       "The duration of a single FindNextHop call",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"strategy"}),

		retryTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexthop_retry_total",
			Help: "The total number of retries issued by ShouldRetry",
		}, []string{"strategy"}),

		markDownTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexthop_mark_down_total",
			Help: "The total number of times a host was marked down",
		}, []string{"strategy", "host", "reason"}),

		markUpTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexthop_mark_up_total",
			Help: "The total number of times a host was marked up",
		}, []string{"strategy", "host"}),

		noParentAvailable: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexthop_no_parent_available_total",
			Help: "The total number of FindNextHop calls that exhausted all candidates",
		}, []string{"strategy"}),

		reloadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nexthop_config_reload_total",
			Help: "The total number of strategy document reloads, split by outcome",
		}, []string{"strategy", "rejected"}),
	}
}

func (r *recorderImpl) ObserveSelectionDuration(strategy string, duration float64) {
	r.selectionDuration.WithLabelValues(strategy).Observe(duration)
}

func (r *recorderImpl) IncRetryTotal(strategy string) {
	r.retryTotal.WithLabelValues(strategy).Inc()
}

func (r *recorderImpl) IncMarkDownTotal(strategy, hostname, reason string) {
	r.markDownTotal.WithLabelValues(strategy, hostname, reason).Inc()
}

func (r *recorderImpl) IncMarkUpTotal(strategy, hostname string) {
	r.markUpTotal.WithLabelValues(strategy, hostname).Inc()
}

func (r *recorderImpl) IncNoParentAvailable(strategy string) {
	r.noParentAvailable.WithLabelValues(strategy).Inc()
}

func (r *recorderImpl) IncReloadTotal(strategy string, rejected bool) {
	r.reloadTotal.WithLabelValues(strategy, strconv.FormatBool(rejected)).Inc()
}

type mockRecorder struct{}

func (mockRecorder) ObserveSelectionDuration(strategy string, duration float64) {}
func (mockRecorder) IncRetryTotal(strategy string)                             {}
func (mockRecorder) IncMarkDownTotal(strategy, hostname, reason string)        {}
func (mockRecorder) IncMarkUpTotal(strategy, hostname string)                  {}
func (mockRecorder) IncNoParentAvailable(strategy string)                      {}
func (mockRecorder) IncReloadTotal(strategy string, rejected bool)             {}

var recorder Recorder = mockRecorder{}

// Init starts the metrics server and switches the package-level recorder
// to the real Prometheus-backed implementation. It blocks; call it from
// its own goroutine.
func Init(port int) {
	recorder = newRecorder()
	http.Handle("/metrics", promhttp.Handler())
	log.Infof("metrics server started at :%d", port)
	logFatal(http.ListenAndServe(":"+strconv.Itoa(port), nil))
}

func logFatal(err error) {
	if err != nil {
		stdlog.Fatal(err)
	}
}

func ObserveSelectionDuration(strategy string, duration float64) {
	recorder.ObserveSelectionDuration(strategy, duration)
}

func IncRetryTotal(strategy string) { recorder.IncRetryTotal(strategy) }

func IncMarkDownTotal(strategy, hostname, reason string) {
	recorder.IncMarkDownTotal(strategy, hostname, reason)
}

func IncMarkUpTotal(strategy, hostname string) { recorder.IncMarkUpTotal(strategy, hostname) }

func IncNoParentAvailable(strategy string) { recorder.IncNoParentAvailable(strategy) }

func IncReloadTotal(strategy string, rejected bool) { recorder.IncReloadTotal(strategy, rejected) }
