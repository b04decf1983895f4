package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Evaluation outcomes.
const (
	OutcomeScored               = "scored"
	OutcomeCached               = "cached"
	OutcomeInvalidInput         = "invalid_input"
	OutcomeNotFound             = "not_found"
	OutcomeEmbeddingUnavailable = "embedding_unavailable"
	OutcomeCanceled             = "canceled"
	OutcomeError                = "error"
)

var (
	registerOnce       sync.Once
	evaluationsTotal   *prometheus.CounterVec
	embeddingFailures  *prometheus.CounterVec
	evaluationLatency  prometheus.Histogram
	answerScores       prometheus.Histogram
	cacheHitsTotal     prometheus.Counter
	publishedQuestions *prometheus.CounterVec
)

// Register initialises the Prometheus collectors used by the evaluator and author services.
func Register() {
	registerOnce.Do(func() {
		evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "answer_evaluations_total",
			Help: "Total number of answer evaluations by outcome.",
		}, []string{"outcome"})

		embeddingFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "answer_embedding_failures_total",
			Help: "Total number of failed answer embeddings by kind.",
		}, []string{"kind"})

		evaluationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "answer_evaluation_duration_seconds",
			Help:    "Latency distribution for answer evaluations.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		})

		answerScores = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "answer_score",
			Help:    "Distribution of answer scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		})

		cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "answer_evaluation_cache_hits_total",
			Help: "Total number of evaluations served from the cache.",
		})

		publishedQuestions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "questions_published_total",
			Help: "Total number of question publish attempts by status.",
		}, []string{"status"})

		prometheus.MustRegister(
			evaluationsTotal,
			embeddingFailures,
			evaluationLatency,
			answerScores,
			cacheHitsTotal,
			publishedQuestions,
		)
	})
}

// Evaluations exposes the evaluation counter.
func Evaluations() *prometheus.CounterVec {
	Register()
	return evaluationsTotal
}

// EmbeddingFailures exposes the embedding failure counter.
func EmbeddingFailures() *prometheus.CounterVec {
	Register()
	return embeddingFailures
}

// EvaluationLatency exposes the evaluation latency histogram.
func EvaluationLatency() prometheus.Histogram {
	Register()
	return evaluationLatency
}

// AnswerScores exposes the score histogram.
func AnswerScores() prometheus.Histogram {
	Register()
	return answerScores
}

// CacheHits exposes the cache hit counter.
func CacheHits() prometheus.Counter {
	Register()
	return cacheHitsTotal
}

// PublishedQuestions exposes the publish counter.
func PublishedQuestions() *prometheus.CounterVec {
	Register()
	return publishedQuestions
}
