// Package metrics exposes Prometheus collectors for the upload pipeline.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/avioli/imagemin-glitch/pkg/errors"
)

const namespace = "imagemin"

// OutcomeOK labels an upload that produced a stored result.
const OutcomeOK = "ok"

// Metrics records slot, upload, compression and cache activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	uploads          *prometheus.CounterVec
	downloads        *prometheus.CounterVec
	compressDuration *prometheus.HistogramVec
	compressBytesIn  *prometheus.CounterVec
	compressBytesOut *prometheus.CounterVec
	resultsExpired   prometheus.Counter
	resultsCached    prometheus.Gauge
	slotsPending     prometheus.Gauge
}

// New creates Metrics on a private registry that also carries the Go
// runtime and process collectors. Serve it with Handler.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := MustNewMetrics(reg)
	m.gatherer = reg
	return m
}

// MustNewMetrics registers the collectors on reg. Collectors already present
// on reg are reused, so constructing twice against one registry is safe. Any
// other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{gatherer: prometheus.DefaultGatherer}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	m.uploads = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by outcome (ok or the error code).",
		},
		[]string{"outcome"},
	))
	m.downloads = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Result pages and minified images served.",
		},
		[]string{"kind"},
	))
	m.compressDuration = register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compression",
			Name:      "duration_seconds",
			Help:      "Time spent in the external codec.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mimetype", "status"},
	))
	m.compressBytesIn = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compression",
			Name:      "input_bytes_total",
			Help:      "Bytes handed to codecs.",
		},
		[]string{"mimetype"},
	))
	m.compressBytesOut = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compression",
			Name:      "output_bytes_total",
			Help:      "Bytes produced by successful codec runs.",
		},
		[]string{"mimetype"},
	))
	m.resultsExpired = register(reg, prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "results",
			Name:      "expired_total",
			Help:      "Results dropped by retention before being downloaded.",
		},
	))
	m.resultsCached = register(reg, prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "results",
			Name:      "cached",
			Help:      "Results currently held in memory.",
		},
	))
	m.slotsPending = register(reg, prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "pending",
			Help:      "Upload tokens issued and not yet used.",
		},
	))
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// IncUpload counts an upload attempt. A nil err counts as OutcomeOK.
func (m *Metrics) IncUpload(err error) {
	if m == nil || m.uploads == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = string(apperrors.Code(err))
		if outcome == "" {
			outcome = "internal"
		}
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

// IncDownload counts a served result page ("page") or image ("image").
func (m *Metrics) IncDownload(kind string) {
	if m == nil || m.downloads == nil {
		return
	}
	m.downloads.WithLabelValues(kind).Inc()
}

// ObserveCompression records a codec run.
func (m *Metrics) ObserveCompression(mimeType string, duration time.Duration, in, out int, err error) {
	if m == nil || m.compressDuration == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.compressDuration.WithLabelValues(mimeType, status).Observe(duration.Seconds())
	m.compressBytesIn.WithLabelValues(mimeType).Add(float64(in))
	if err == nil {
		m.compressBytesOut.WithLabelValues(mimeType).Add(float64(out))
	}
}

// IncExpired counts a result dropped by retention.
func (m *Metrics) IncExpired() {
	if m == nil || m.resultsExpired == nil {
		return
	}
	m.resultsExpired.Inc()
}

// SetCachedResults reports the result cache size.
func (m *Metrics) SetCachedResults(n int) {
	if m == nil || m.resultsCached == nil {
		return
	}
	m.resultsCached.Set(float64(n))
}

// SetPendingSlots reports the number of outstanding upload tokens.
func (m *Metrics) SetPendingSlots(n int) {
	if m == nil || m.slotsPending == nil {
		return
	}
	m.slotsPending.Set(float64(n))
}
