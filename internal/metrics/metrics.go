// Package metrics holds the Prometheus instruments of the API core. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks change history writes, asset mirroring and validation.
type Metrics struct {
	ChangesRecorded    *prometheus.CounterVec
	AssetsStored       *prometheus.CounterVec
	MirrorFailures     *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	EntityWrites       *prometheus.CounterVec
	MirrorDuration     prometheus.Histogram
}

// New registers all instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChangesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parldata_changes_recorded_total",
			Help: "Total number of change records prepended to entity histories",
		}, []string{"resource"}),
		AssetsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parldata_assets_stored_total",
			Help: "Total number of remote files stored locally, by outcome (new, version)",
		}, []string{"resource", "outcome"}),
		MirrorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parldata_mirror_failures_total",
			Help: "Total number of asset mirroring failures, by kind (network, filesystem)",
		}, []string{"resource", "kind"}),
		ValidationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parldata_validation_failures_total",
			Help: "Total number of rejected writes, by field",
		}, []string{"resource", "field"}),
		EntityWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parldata_entity_writes_total",
			Help: "Total number of entity writes, by operation",
		}, []string{"resource", "op"}),
		MirrorDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parldata_mirror_duration_seconds",
			Help:    "Duration of asset mirroring for one field",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// AddChanges records n new change records.
func (m *Metrics) AddChanges(resource string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ChangesRecorded.WithLabelValues(resource).Add(float64(n))
}

// IncAssetStored records a stored file; outcome is "new" or "version".
func (m *Metrics) IncAssetStored(resource, outcome string) {
	if m == nil {
		return
	}
	m.AssetsStored.WithLabelValues(resource, outcome).Inc()
}

// IncMirrorFailure records a soft-failed mirror attempt.
func (m *Metrics) IncMirrorFailure(resource, kind string) {
	if m == nil {
		return
	}
	m.MirrorFailures.WithLabelValues(resource, kind).Inc()
}

// IncValidationFailure records a rejected write.
func (m *Metrics) IncValidationFailure(resource, field string) {
	if m == nil {
		return
	}
	m.ValidationFailures.WithLabelValues(resource, field).Inc()
}

// IncWrite records a successful write; op is create, update, replace or delete.
func (m *Metrics) IncWrite(resource, op string) {
	if m == nil {
		return
	}
	m.EntityWrites.WithLabelValues(resource, op).Inc()
}

// ObserveMirror records the duration of one mirror attempt.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveMirror(start time.Time) {
	if m == nil {
		return
	}
	m.MirrorDuration.Observe(time.Since(start).Seconds())
}
