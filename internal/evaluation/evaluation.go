// Package evaluation scores a free-text answer against a question's key points.
package evaluation

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"answer-eval/internal/cache"
	"answer-eval/internal/embeddings"
	"answer-eval/internal/feedback"
	"answer-eval/internal/metrics"
	"answer-eval/internal/scoring"
	"answer-eval/internal/store"
	"answer-eval/internal/textutil"
)

const (
	DefaultEmbeddingTimeout = 10 * time.Second
	DefaultCacheTTL         = time.Hour
	DefaultMaxAnswerWords   = 2000
)

// Result is what a learner gets back. Hit and missing key points keep store order.
type Result struct {
	QuestionID       string   `json:"question_id"`
	Score            int      `json:"score"`
	Feedback         string   `json:"feedback"`
	HitKeyPoints     []string `json:"hit_key_points"`
	MissingKeyPoints []string `json:"missing_key_points"`
}

// Service evaluates answers. It is read-only after construction and safe for
// concurrent use.
type Service struct {
	store            store.Store
	embedder         embeddings.Embedder
	scorer           *scoring.Scorer
	composer         *feedback.Composer
	cache            cache.Cache
	log              *slog.Logger
	model            string
	embeddingTimeout time.Duration
	cacheTTL         time.Duration
	maxAnswerWords   int
	fingerprint      string
}

type Option func(*Service)

func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEmbeddingTimeout bounds each answer embedding call. Zero disables the bound.
func WithEmbeddingTimeout(d time.Duration) Option {
	return func(s *Service) { s.embeddingTimeout = d }
}

func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) { s.cacheTTL = d }
}

// WithModel overrides the model name questions must have been embedded with.
// By default it is the embedder's own model.
func WithModel(model string) Option {
	return func(s *Service) { s.model = model }
}

// WithMaxAnswerWords caps the answer length sent to the embedder. Zero disables the cap.
func WithMaxAnswerWords(n int) Option {
	return func(s *Service) { s.maxAnswerWords = n }
}

func New(st store.Store, embedder embeddings.Embedder, scorer *scoring.Scorer, composer *feedback.Composer, opts ...Option) *Service {
	s := &Service{
		store:            st,
		embedder:         embedder,
		scorer:           scorer,
		composer:         composer,
		cache:            cache.NewNoOpCache(),
		log:              slog.Default(),
		embeddingTimeout: DefaultEmbeddingTimeout,
		cacheTTL:         DefaultCacheTTL,
		maxAnswerWords:   DefaultMaxAnswerWords,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.model == "" {
		s.model = embedder.Model()
	}
	high, low := composer.Bands()
	s.fingerprint = strings.Join([]string{
		s.model,
		strconv.FormatFloat(scorer.Threshold(), 'g', -1, 64),
		string(scorer.Rounding()),
		strconv.Itoa(high),
		strconv.Itoa(low),
		strconv.Itoa(s.maxAnswerWords),
	}, "|")
	return s
}

// Evaluate scores userAnswer against the key points of questionID.
//
// Errors: ErrInvalidInput for a blank answer (checked before anything else),
// ErrNotFound for an unknown question, an *EmbeddingError (matching
// ErrEmbeddingUnavailable) when the answer cannot be embedded in time or is
// incompatible with the stored key points, and the context's error when ctx
// ends first. Evaluate never retries; transient failures are the caller's to retry.
func (s *Service) Evaluate(ctx context.Context, questionID, userAnswer string) (Result, error) {
	start := time.Now()
	outcome := metrics.OutcomeError
	defer func() {
		metrics.Evaluations().WithLabelValues(outcome).Inc()
		metrics.EvaluationLatency().Observe(time.Since(start).Seconds())
	}()

	answer := textutil.Normalize(userAnswer)
	if answer == "" {
		outcome = metrics.OutcomeInvalidInput
		return Result{}, ErrInvalidInput
	}

	q, err := s.store.GetQuestion(ctx, strings.TrimSpace(questionID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			outcome = metrics.OutcomeNotFound
		}
		return Result{}, err
	}
	log := s.log.With("question_id", q.ID)

	if q.EmbeddingModel != "" && q.EmbeddingModel != s.model {
		outcome = metrics.OutcomeEmbeddingUnavailable
		return Result{}, s.embeddingFailure(log, KindIncompatible,
			fmt.Errorf("question embedded with %q, evaluator uses %q", q.EmbeddingModel, s.model))
	}

	answer, truncated := textutil.Truncate(answer, s.maxAnswerWords)
	if truncated {
		log.Debug("answer truncated before embedding", "max_words", s.maxAnswerWords)
	}

	key := cache.GenerateCacheKey(q.ID, s.fingerprint+"|"+keyPointsDigest(q), answer)
	if cached, err := s.cache.GetEvaluation(ctx, key); err != nil {
		log.Warn("cache lookup failed", "err", err)
	} else if cached != nil && cached.QuestionID == q.ID {
		outcome = metrics.OutcomeCached
		metrics.CacheHits().Inc()
		return fromCache(cached), nil
	}

	vec, err := s.embed(ctx, answer)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			outcome = metrics.OutcomeCanceled
			return Result{}, ctxErr
		}
		outcome = metrics.OutcomeEmbeddingUnavailable
		kind := KindProvider
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return Result{}, s.embeddingFailure(log, kind, err)
	}

	scored, err := s.scorer.Score(vec, q.KeyPoints)
	if errors.Is(err, scoring.ErrDimensionMismatch) {
		outcome = metrics.OutcomeEmbeddingUnavailable
		return Result{}, s.embeddingFailure(log, KindIncompatible, err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("score question %s: %w", q.ID, err)
	}

	res := Result{
		QuestionID:       q.ID,
		Score:            scored.Score,
		Feedback:         s.composer.Compose(scored),
		HitKeyPoints:     scored.Hits,
		MissingKeyPoints: scored.Misses,
	}
	outcome = metrics.OutcomeScored
	metrics.AnswerScores().Observe(float64(res.Score))
	log.Debug("answer evaluated", "score", res.Score, "raw_score", scored.RawScore,
		"hits", len(res.HitKeyPoints), "missing", len(res.MissingKeyPoints))

	if err := s.cache.SetEvaluation(ctx, key, toCache(res), s.cacheTTL); err != nil {
		log.Warn("cache store failed", "err", err)
	}
	return res, nil
}

// keyPointsDigest identifies the key points a result was scored against. It
// changes with any edit to their text, weight, embedding or model.
func keyPointsDigest(q store.Question) string {
	h := sha256.New()
	buf := make([]byte, 0, 64)
	h.Write([]byte(q.EmbeddingModel))
	for _, kp := range q.KeyPoints {
		buf = binary.LittleEndian.AppendUint64(buf[:0], uint64(len(kp.Text)))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(kp.Weight))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(kp.Embedding)))
		h.Write(buf)
		h.Write([]byte(kp.Text))
		for _, x := range kp.Embedding {
			buf = binary.LittleEndian.AppendUint32(buf[:0], math.Float32bits(x))
			h.Write(buf)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Service) embed(ctx context.Context, answer string) (embeddings.Vector, error) {
	if s.embeddingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.embeddingTimeout)
		defer cancel()
	}
	vec, err := s.embedder.Embed(ctx, answer)
	if err == nil && ctx.Err() != nil {
		// A provider that ignores the deadline still counts as timed out.
		err = ctx.Err()
	}
	return vec, err
}

func (s *Service) embeddingFailure(log *slog.Logger, kind EmbeddingErrorKind, err error) error {
	metrics.EmbeddingFailures().WithLabelValues(string(kind)).Inc()
	log.Warn("answer embedding unavailable", "kind", kind, "err", err)
	return &EmbeddingError{Kind: kind, Err: err}
}

func toCache(r Result) *cache.Evaluation {
	return &cache.Evaluation{
		QuestionID:       r.QuestionID,
		Score:            r.Score,
		Feedback:         r.Feedback,
		HitKeyPoints:     r.HitKeyPoints,
		MissingKeyPoints: r.MissingKeyPoints,
	}
}

func fromCache(e *cache.Evaluation) Result {
	r := Result{
		QuestionID:       e.QuestionID,
		Score:            e.Score,
		Feedback:         e.Feedback,
		HitKeyPoints:     e.HitKeyPoints,
		MissingKeyPoints: e.MissingKeyPoints,
	}
	if r.HitKeyPoints == nil {
		r.HitKeyPoints = []string{}
	}
	if r.MissingKeyPoints == nil {
		r.MissingKeyPoints = []string{}
	}
	return r
}
