package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"answer-eval/internal/embeddings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Advisory lock keeps concurrently starting evaluator and author processes
	// from racing on DDL.
	const lockID = 727100431

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if !acquired {
		// Another process is running migrations; wait briefly and skip
		time.Sleep(2 * time.Second)
		return nil
	}

	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			question_text TEXT NOT NULL,
			embedding_model TEXT NOT NULL,
			dimensions INT NOT NULL,
			published_at TIMESTAMPTZ DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS key_points (
			id UUID PRIMARY KEY,
			question_id TEXT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
			ord INT NOT NULL,
			text TEXT NOT NULL,
			weight DOUBLE PRECISION NOT NULL CHECK (weight > 0 AND weight < 'Infinity'::float8),
			embedding vector NOT NULL,
			UNIQUE (question_id, ord)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetQuestion reads the question and its key points in one statement so the
// result reflects a single committed version.
func (s *PostgresStore) GetQuestion(ctx context.Context, id string) (Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.question_text, q.embedding_model, kp.text, kp.weight, kp.embedding::text
		FROM questions q
		JOIN key_points kp ON kp.question_id = q.id
		WHERE q.id = $1
		ORDER BY kp.ord`, id)
	if err != nil {
		return Question{}, fmt.Errorf("failed to get question %s: %w", id, err)
	}
	defer rows.Close()

	q := Question{ID: id}
	for rows.Next() {
		var (
			kp     KeyPoint
			vecStr string
		)
		if err := rows.Scan(&q.Text, &q.EmbeddingModel, &kp.Text, &kp.Weight, &vecStr); err != nil {
			return Question{}, err
		}
		if kp.Embedding, err = parseVector(vecStr); err != nil {
			return Question{}, fmt.Errorf("question %s: %w", id, err)
		}
		q.KeyPoints = append(q.KeyPoints, kp)
	}
	if err := rows.Err(); err != nil {
		return Question{}, err
	}
	if len(q.KeyPoints) == 0 {
		return Question{}, ErrNotFound
	}
	return q, nil
}

func (s *PostgresStore) GetKeyPoints(ctx context.Context, id string) ([]KeyPoint, error) {
	q, err := s.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	return q.KeyPoints, nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.question_text, q.embedding_model,
			array_agg(kp.text ORDER BY kp.ord),
			array_agg(kp.weight ORDER BY kp.ord)
		FROM questions q
		JOIN key_points kp ON kp.question_id = q.id
		GROUP BY q.id, q.question_text, q.embedding_model
		ORDER BY q.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var (
			q       Question
			texts   []string
			weights []float64
		)
		if err := rows.Scan(&q.ID, &q.Text, &q.EmbeddingModel, pq.Array(&texts), pq.Array(&weights)); err != nil {
			return nil, err
		}
		if len(texts) != len(weights) {
			return nil, fmt.Errorf("question %s: %d key point texts but %d weights", q.ID, len(texts), len(weights))
		}
		q.KeyPoints = make([]KeyPoint, len(texts))
		for i := range texts {
			q.KeyPoints[i] = KeyPoint{Text: texts[i], Weight: weights[i]}
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// SaveQuestion replaces the question and all of its key points in one
// transaction.
func (s *PostgresStore) SaveQuestion(ctx context.Context, q Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO questions(id, question_text, embedding_model, dimensions, published_at)
		VALUES($1,$2,$3,$4,now())
		ON CONFLICT (id) DO UPDATE SET question_text=excluded.question_text,
			embedding_model=excluded.embedding_model, dimensions=excluded.dimensions,
			published_at=excluded.published_at`,
		q.ID, q.Text, q.EmbeddingModel, q.Dimensions())
	if err != nil {
		return fmt.Errorf("failed to upsert question %s: %w", q.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM key_points WHERE question_id=$1`, q.ID); err != nil {
		return fmt.Errorf("failed to clear key points for %s: %w", q.ID, err)
	}
	for i, kp := range q.KeyPoints {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO key_points(id, question_id, ord, text, weight, embedding)
			VALUES($1,$2,$3,$4,$5,$6::vector)`,
			uuid.New(), q.ID, i, kp.Text, kp.Weight, vectorToString(kp.Embedding))
		if err != nil {
			return fmt.Errorf("failed to insert key point %d for %s: %w", i, q.ID, err)
		}
	}
	return tx.Commit()
}

// vectorToString converts a Vector ([]float32) to pgvector array format.
// Format: "[0.1,0.2,0.3,...]"
func vectorToString(v embeddings.Vector) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector is the inverse of vectorToString.
func parseVector(s string) (embeddings.Vector, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed vector literal %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return embeddings.Vector{}, nil
	}
	parts := strings.Split(body, ",")
	vec := make(embeddings.Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
