package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job results.
const (
	ResultOK        = "ok"
	ResultCancelled = "cancelled"
	ResultBusy      = "busy"
	ResultError     = "error"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelcloak_jobs_total",
		Help: "Obfuscation jobs by result",
	}, []string{"result"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixelcloak_job_duration_seconds",
		Help:    "Wall time of a completed obfuscation job",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	rounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixelcloak_rounds",
		Help:    "Perturbation rounds run per job",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 12},
	})

	ssimScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixelcloak_ssim",
		Help:    "SSIM of the returned image against its source",
		Buckets: []float64{0.5, 0.7, 0.8, 0.85, 0.9, 0.93, 0.95, 0.97, 0.99, 1},
	})

	hashDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixelcloak_hash_distance",
		Help:    "dHash Hamming distance between source and output",
		Buckets: []float64{0, 2, 4, 8, 16, 32, 64, 128},
	})

	facesRedacted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixelcloak_faces_redacted_total",
		Help: "Face boxes painted over",
	})

	detectorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelcloak_detector_failures_total",
		Help: "Detector errors by detector name",
	}, []string{"detector"})

	saveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixelcloak_save_failures_total",
		Help: "Output images that could not be persisted",
	})
)

// JobFinished records the outcome of one job.
func JobFinished(result string, d time.Duration) {
	jobsTotal.WithLabelValues(result).Inc()
	if result == ResultOK {
		jobDuration.Observe(d.Seconds())
	}
}

// Scored records the quality figures of a completed job.
func Scored(ssim float64, nRounds, faces, distance int) {
	ssimScore.Observe(ssim)
	rounds.Observe(float64(nRounds))
	facesRedacted.Add(float64(faces))
	if distance >= 0 {
		hashDistance.Observe(float64(distance))
	}
}

func DetectorFailed(name string) {
	detectorFailures.WithLabelValues(name).Inc()
}

func SaveFailed() {
	saveFailures.Inc()
}
