package merger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const metricsNamespace = "s3merge"

// Metrics counts what merges did. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Merges          *prometheus.CounterVec
	ObjectsMerged   prometheus.Counter
	ObjectsSkipped  prometheus.Counter
	ObjectsDeleted  prometheus.Counter
	BytesDownloaded prometheus.Counter
	BytesUploaded   prometheus.Counter
	Duration        prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when reg
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "merges_total",
			Help:      "Merge runs by result.",
		}, []string{"result"}),
		ObjectsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "objects_merged_total",
			Help:      "Input objects whose content was appended to a merged object.",
		}),
		ObjectsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "objects_skipped_total",
			Help:      "Input objects deleted without being merged because of their extension.",
		}),
		ObjectsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "objects_deleted_total",
			Help:      "Objects deleted, inputs and markers.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes read from input objects.",
		}),
		BytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes written to merged objects.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "merge_duration_seconds",
			Help:      "Wall time of merge runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				// metrics may be redundantly registered; ignore these errors
				if !errors.As(err, &prometheus.AlreadyRegisteredError{}) {
					log.Infof("error registering prometheus metric: %v", err)
				}
			}
		}
	}

	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Merges,
		m.ObjectsMerged,
		m.ObjectsSkipped,
		m.ObjectsDeleted,
		m.BytesDownloaded,
		m.BytesUploaded,
		m.Duration,
	}
}

// resultLabel maps the outcome of a merge to the "result" label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrBucketNotFound):
		return "bucket_not_found"
	case errors.Is(err, ErrPrefixNotFound):
		return "prefix_not_found"
	case errors.Is(err, ErrNoObjectsToMerge):
		return "no_objects"
	case errors.Is(err, ErrInvalidEncoding):
		return "invalid_encoding"
	default:
		return "store_error"
	}
}

func (m *Metrics) observe(start time.Time, err error) {
	if m == nil {
		return
	}
	m.Merges.WithLabelValues(resultLabel(err)).Inc()
	m.Duration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) merged(downloaded int64) {
	if m == nil {
		return
	}
	m.ObjectsMerged.Inc()
	m.BytesDownloaded.Add(float64(downloaded))
}

func (m *Metrics) skipped() {
	if m == nil {
		return
	}
	m.ObjectsSkipped.Inc()
}

func (m *Metrics) deleted() {
	if m == nil {
		return
	}
	m.ObjectsDeleted.Inc()
}

func (m *Metrics) uploaded(n int) {
	if m == nil {
		return
	}
	m.BytesUploaded.Add(float64(n))
}
