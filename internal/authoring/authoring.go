// Package authoring turns question drafts into published questions: key
// points are extracted when missing, embedded in one batch and saved
// atomically to the store.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"answer-eval/internal/cache"
	"answer-eval/internal/embeddings"
	"answer-eval/internal/llm"
	"answer-eval/internal/metrics"
	"answer-eval/internal/store"
)

// ErrInvalidDraft is returned for drafts that can never be published.
var ErrInvalidDraft = errors.New("invalid question draft")

const defaultConcurrency = 4

var validate = validator.New()

// DraftKeyPoint is a key point before embedding. A zero weight means store.DefaultWeight.
type DraftKeyPoint struct {
	Text   string  `json:"text" validate:"required"`
	Weight float64 `json:"weight,omitempty" validate:"gte=0"`
}

// Draft is an unpublished question.
type Draft struct {
	QuestionID   string          `json:"question_id" validate:"required,max=128"`
	QuestionText string          `json:"question_text" validate:"required"`
	ModelAnswer  string          `json:"model_answer,omitempty"`
	KeyPoints    []DraftKeyPoint `json:"key_points,omitempty" validate:"dive"`
}

// Validate checks the draft's shape. It does not require key points, since
// those may still be extracted from the model answer.
func (d Draft) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	if strings.TrimSpace(d.QuestionID) == "" || strings.TrimSpace(d.QuestionText) == "" {
		return fmt.Errorf("%w: question id and text must not be blank", ErrInvalidDraft)
	}
	if len(d.KeyPoints) == 0 && strings.TrimSpace(d.ModelAnswer) == "" {
		return fmt.Errorf("%w: question %s needs key points or a model answer", ErrInvalidDraft, d.QuestionID)
	}
	return nil
}

// DraftFromQuestion converts a stored or bank question back into a draft, dropping embeddings.
func DraftFromQuestion(q store.Question) Draft {
	d := Draft{QuestionID: q.ID, QuestionText: q.Text}
	for _, kp := range q.KeyPoints {
		d.KeyPoints = append(d.KeyPoints, DraftKeyPoint{Text: kp.Text, Weight: kp.Weight})
	}
	return d
}

// Publisher embeds and publishes drafts.
type Publisher struct {
	store       store.Store
	embedder    embeddings.Embedder
	llm         llm.Client
	cache       cache.Cache
	log         *slog.Logger
	concurrency int
}

type Option func(*Publisher)

// WithLLM enables key point extraction for drafts that only carry a model answer.
func WithLLM(c llm.Client) Option {
	return func(p *Publisher) { p.llm = c }
}

// WithCache invalidates cached evaluations of republished questions.
func WithCache(c cache.Cache) Option {
	return func(p *Publisher) {
		if c != nil {
			p.cache = c
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Publisher) {
		if log != nil {
			p.log = log
		}
	}
}

// WithConcurrency bounds the number of drafts PublishAll embeds at once.
func WithConcurrency(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func NewPublisher(st store.Store, embedder embeddings.Embedder, opts ...Option) *Publisher {
	p := &Publisher{
		store:       st,
		embedder:    embedder,
		cache:       cache.NewNoOpCache(),
		log:         slog.Default(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish embeds the draft's key points and saves the question. The question
// becomes visible to readers all at once or not at all.
func (p *Publisher) Publish(ctx context.Context, d Draft) (store.Question, error) {
	q, err := p.publish(ctx, d)
	switch {
	case err == nil:
		metrics.PublishedQuestions().WithLabelValues("published").Inc()
		p.log.Info("question published", "question_id", q.ID, "key_points", len(q.KeyPoints), "model", q.EmbeddingModel)
	case errors.Is(err, ErrInvalidDraft):
		metrics.PublishedQuestions().WithLabelValues("invalid").Inc()
	default:
		metrics.PublishedQuestions().WithLabelValues("failed").Inc()
	}
	return q, err
}

func (p *Publisher) publish(ctx context.Context, d Draft) (store.Question, error) {
	if err := d.Validate(); err != nil {
		return store.Question{}, err
	}
	id := strings.TrimSpace(d.QuestionID)

	points, err := p.keyPoints(ctx, d)
	if err != nil {
		return store.Question{}, err
	}
	if len(points) == 0 {
		return store.Question{}, fmt.Errorf("%w: question %s has no key points", ErrInvalidDraft, id)
	}

	texts := make([]string, len(points))
	for i, kp := range points {
		texts[i] = kp.Text
	}
	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return store.Question{}, fmt.Errorf("embed key points of %s: %w", id, err)
	}
	if len(vecs) != len(texts) {
		return store.Question{}, fmt.Errorf("embed key points of %s: %w: got %d vectors for %d texts",
			id, embeddings.ErrBatchMismatch, len(vecs), len(texts))
	}

	q := store.Question{
		ID:             id,
		Text:           strings.TrimSpace(d.QuestionText),
		EmbeddingModel: p.embedder.Model(),
		KeyPoints:      make([]store.KeyPoint, len(points)),
	}
	for i, kp := range points {
		if vecs[i].IsZero() {
			// A zero vector has no direction; no answer could ever match it.
			return store.Question{}, fmt.Errorf("%w: question %s key point %q embeds to a zero vector",
				ErrInvalidDraft, id, kp.Text)
		}
		q.KeyPoints[i] = store.KeyPoint{Text: kp.Text, Weight: kp.Weight, Embedding: vecs[i]}
	}

	if err := p.store.SaveQuestion(ctx, q); err != nil {
		if errors.Is(err, store.ErrInvalidQuestion) {
			return store.Question{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
		}
		return store.Question{}, fmt.Errorf("save question %s: %w", id, err)
	}

	if err := p.cache.InvalidateQuestion(ctx, id); err != nil {
		p.log.Warn("failed to invalidate cached evaluations", "question_id", id, "err", err)
	}
	return q, nil
}

// keyPoints returns the draft's key points with text trimmed and weights
// defaulted, extracting them from the model answer when none were given.
func (p *Publisher) keyPoints(ctx context.Context, d Draft) ([]DraftKeyPoint, error) {
	if len(d.KeyPoints) == 0 {
		answer := strings.TrimSpace(d.ModelAnswer)
		if answer == "" || p.llm == nil {
			return nil, nil
		}
		texts, err := p.llm.ExtractKeyPoints(ctx, strings.TrimSpace(d.QuestionText), answer)
		if errors.Is(err, llm.ErrNoKeyPoints) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("extract key points of %s: %w", d.QuestionID, err)
		}
		p.log.Debug("extracted key points", "question_id", d.QuestionID, "count", len(texts))
		out := make([]DraftKeyPoint, 0, len(texts))
		for _, t := range texts {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, DraftKeyPoint{Text: t, Weight: store.DefaultWeight})
			}
		}
		return out, nil
	}

	out := make([]DraftKeyPoint, len(d.KeyPoints))
	for i, kp := range d.KeyPoints {
		text := strings.TrimSpace(kp.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: question %s key point %d has empty text", ErrInvalidDraft, d.QuestionID, i)
		}
		w := kp.Weight
		if w == 0 {
			w = store.DefaultWeight
		}
		if !store.ValidWeight(w) {
			return nil, fmt.Errorf("%w: question %s key point %d has invalid weight %v", ErrInvalidDraft, d.QuestionID, i, w)
		}
		out[i] = DraftKeyPoint{Text: text, Weight: w}
	}
	return out, nil
}

// PublishAll publishes drafts concurrently and returns the first error.
func (p *Publisher) PublishAll(ctx context.Context, drafts []Draft) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, d := range drafts {
		g.Go(func() error {
			_, err := p.Publish(ctx, d)
			return err
		})
	}
	return g.Wait()
}

// Seed loads a question bank into the store. Questions whose embeddings were
// precomputed with the current model are saved as they are; the rest are
// re-embedded. It returns the number of questions re-embedded.
func (p *Publisher) Seed(ctx context.Context, questions []store.Question) (int, error) {
	var drafts []Draft
	for _, q := range questions {
		if q.HasEmbeddings() && q.EmbeddingModel == p.embedder.Model() {
			if err := p.store.SaveQuestion(ctx, q); err != nil {
				return 0, fmt.Errorf("seed question %s: %w", q.ID, err)
			}
			if err := p.cache.InvalidateQuestion(ctx, q.ID); err != nil {
				p.log.Warn("failed to invalidate cached evaluations", "question_id", q.ID, "err", err)
			}
			continue
		}
		drafts = append(drafts, DraftFromQuestion(q))
	}
	if len(drafts) > 0 {
		p.log.Info("precomputing key point embeddings", "questions", len(drafts), "model", p.embedder.Model())
	}
	if err := p.PublishAll(ctx, drafts); err != nil {
		return 0, err
	}
	return len(drafts), nil
}
