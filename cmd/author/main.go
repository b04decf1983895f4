package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"answer-eval/internal/app"
	"answer-eval/internal/authoring"
	"answer-eval/internal/httputil"
	"answer-eval/internal/queue"
	"answer-eval/internal/store"
)

// publisher is the part of authoring.Publisher the worker needs.
type publisher interface {
	Publish(ctx context.Context, d authoring.Draft) (store.Question, error)
}

func main() {
	deps, err := app.BuildAuthor()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	deps.Log.Info("author worker starting")

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(sigCtx)

	// Run queue worker
	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeAuthor, authorHandler(deps.Publisher, deps.Log))
	})

	// Run health check server
	g.Go(func() error {
		return httputil.ServeHealth(ctx, fmt.Sprintf(":%d", deps.Config.Port), deps.Log)
	})

	// Wait for either to fail
	if err := g.Wait(); err != nil {
		deps.Log.Error("author service stopped", "err", err)
		os.Exit(1)
	}
	deps.Log.Info("author worker stopped")
}

// authorHandler publishes one draft per task. Drafts that can never be
// published are logged and acknowledged; other failures go back to the
// queue for a delayed retry.
func authorHandler(p publisher, log *slog.Logger) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		var draft authoring.Draft
		if err := task.Decode(&draft); err != nil {
			log.Error("dropping undecodable author task", "task_id", task.ID, "err", err)
			return nil
		}
		log := log.With("task_id", task.ID, "question_id", draft.QuestionID, "attempt", task.Attempts)

		q, err := p.Publish(ctx, draft)
		if errors.Is(err, authoring.ErrInvalidDraft) {
			log.Error("dropping invalid question draft", "err", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("publish question %s: %w", draft.QuestionID, err)
		}
		log.Info("question draft published", "key_points", len(q.KeyPoints))
		return nil
	}
}
