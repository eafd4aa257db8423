// Package metrics provides the Prometheus collectors for training, inference and
// the annotation server.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pulsepeak"

// TrainingMetrics tracks the progress of a training run. A nil receiver is a no-op.
type TrainingMetrics struct {
	Epoch         prometheus.Gauge
	TrainLoss     prometheus.Gauge
	ValLoss       prometheus.Gauge
	ValF1         prometheus.Gauge
	LearningRate  prometheus.Gauge
	GradNorm      prometheus.Histogram
	FoldF1        *prometheus.GaugeVec
	EpochDuration prometheus.Histogram
}

// NewTrainingMetrics creates the training collectors and registers them.
func NewTrainingMetrics(registry prometheus.Registerer) (*TrainingMetrics, error) {
	m := &TrainingMetrics{
		Epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "train", Name: "epoch",
			Help: "Last completed training epoch.",
		}),
		TrainLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "train", Name: "loss",
			Help: "Mean training BCE of the last epoch.",
		}),
		ValLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "train", Name: "val_loss",
			Help: "Validation BCE of the last epoch.",
		}),
		ValF1: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "train", Name: "val_f1",
			Help: "Sample-level validation F1 at threshold 0.5.",
		}),
		LearningRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "train", Name: "learning_rate",
			Help: "Learning rate used for the last epoch.",
		}),
		GradNorm: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "train", Name: "grad_norm",
			Help:    "Gradient norm before clipping.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		FoldF1: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "loso", Name: "f1",
			Help: "Test F1 of a leave-one-subject-out fold.",
		}, []string{"subject"}),
		EpochDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "train", Name: "epoch_duration_seconds",
			Help:    "Wall time of one training epoch.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	if err := register(registry, m.Epoch, m.TrainLoss, m.ValLoss, m.ValF1, m.LearningRate, m.GradNorm, m.FoldF1, m.EpochDuration); err != nil {
		return nil, fmt.Errorf("failed to register training metrics: %w", err)
	}
	return m, nil
}

// RecordEpoch publishes the results of one epoch.
func (m *TrainingMetrics) RecordEpoch(epoch int, trainLoss, valLoss, valF1, lr, seconds float64) {
	if m == nil {
		return
	}
	m.Epoch.Set(float64(epoch))
	m.TrainLoss.Set(trainLoss)
	m.ValLoss.Set(valLoss)
	m.ValF1.Set(valF1)
	m.LearningRate.Set(lr)
	m.EpochDuration.Observe(seconds)
}

func (m *TrainingMetrics) ObserveGradNorm(norm float64) {
	if m == nil {
		return
	}
	m.GradNorm.Observe(norm)
}

func (m *TrainingMetrics) RecordFold(subject string, f1 float64) {
	if m == nil {
		return
	}
	m.FoldF1.WithLabelValues(subject).Set(f1)
}

// AnnotationMetrics counts requests and edits of the annotation server.
type AnnotationMetrics struct {
	Requests  *prometheus.CounterVec
	Edits     *prometheus.CounterVec
	Saves     *prometheus.CounterVec
	Detection prometheus.Histogram
}

// NewAnnotationMetrics creates the annotation collectors and registers them.
func NewAnnotationMetrics(registry prometheus.Registerer) (*AnnotationMetrics, error) {
	m := &AnnotationMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "annotate", Name: "requests_total",
			Help: "API requests partitioned by route and status code.",
		}, []string{"route", "code"}),
		Edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "annotate", Name: "edits_total",
			Help: "Peak edits partitioned by kind (add, remove, undo, detect).",
		}, []string{"kind"}),
		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "annotate", Name: "sessions_total",
			Help: "Sessions marked done or bad.",
		}, []string{"status"}),
		Detection: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "annotate", Name: "detect_duration_seconds",
			Help:    "Time taken by automatic peak detection.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	if err := register(registry, m.Requests, m.Edits, m.Saves, m.Detection); err != nil {
		return nil, fmt.Errorf("failed to register annotation metrics: %w", err)
	}
	return m, nil
}

func (m *AnnotationMetrics) RecordRequest(route string, code int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, fmt.Sprint(code)).Inc()
}

func (m *AnnotationMetrics) RecordEdit(kind string) {
	if m == nil {
		return
	}
	m.Edits.WithLabelValues(kind).Inc()
}

func (m *AnnotationMetrics) RecordSave(status string) {
	if m == nil {
		return
	}
	m.Saves.WithLabelValues(status).Inc()
}

func (m *AnnotationMetrics) ObserveDetection(seconds float64) {
	if m == nil {
		return
	}
	m.Detection.Observe(seconds)
}

func register(registry prometheus.Registerer, cs ...prometheus.Collector) error {
	if registry == nil {
		return nil
	}
	for _, c := range cs {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
