package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ledongthuc/pdf"

	"answer-eval/internal/app"
	"answer-eval/internal/authoring"
	"answer-eval/internal/httputil"
	"answer-eval/internal/queue"
	"answer-eval/internal/store"
)

type answerRequest struct {
	QuestionID string `json:"question_id" validate:"required,max=128"`
	UserAnswer string `json:"user_answer"`
}

type questionResponse struct {
	QuestionID   string `json:"question_id"`
	QuestionText string `json:"question_text"`
}

type keyPointResponse struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type questionDetailResponse struct {
	QuestionID   string             `json:"question_id"`
	QuestionText string             `json:"question_text"`
	KeyPoints    []keyPointResponse `json:"key_points"`
}

var errUnsupportedFile = errors.New("unsupported file type (only PDF and TXT allowed)")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.BuildEvaluator(ctx)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httputil.Serve(ctx, srv, deps.Log); err != nil {
		deps.Log.Error("server failed", "err", err)
		os.Exit(1)
	}
	deps.Log.Info("evaluator stopped")
}

func newRouter(deps app.EvaluatorDeps) http.Handler {
	r := httputil.NewRouter(deps.Log)

	r.Get("/healthz", httputil.HealthHandler(deps.Log))
	r.Handle("/metrics", httputil.MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusHandler(deps))
		r.Get("/question", randomQuestionHandler(deps))
		r.Get("/questions", listQuestionsHandler(deps))
		r.Post("/answer", answerHandler(deps))
		r.Post("/answer/upload", uploadAnswerHandler(deps))
		if deps.Queue != nil {
			r.Post("/questions", submitQuestionHandler(deps))
		}
	})
	return r
}

func statusHandler(deps app.EvaluatorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		questions, err := deps.Store.ListQuestions(r.Context())
		if err != nil {
			httputil.WriteError(deps.Log, w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"message":          "Answer evaluation service is running",
			"questions_loaded": len(questions),
		})
	}
}

func randomQuestionHandler(deps app.EvaluatorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		questions, err := deps.Store.ListQuestions(r.Context())
		if err != nil {
			httputil.WriteError(deps.Log, w, r, err)
			return
		}
		if len(questions) == 0 {
			httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "no questions available"})
			return
		}
		q := questions[rand.IntN(len(questions))]
		httputil.WriteJSON(w, http.StatusOK, questionResponse{QuestionID: q.ID, QuestionText: q.Text})
	}
}

func listQuestionsHandler(deps app.EvaluatorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		questions, err := deps.Store.ListQuestions(r.Context())
		if err != nil {
			httputil.WriteError(deps.Log, w, r, err)
			return
		}
		out := make([]questionDetailResponse, len(questions))
		for i, q := range questions {
			out[i] = toQuestionDetail(q)
		}
		httputil.WriteJSON(w, http.StatusOK, out)
	}
}

func toQuestionDetail(q store.Question) questionDetailResponse {
	d := questionDetailResponse{
		QuestionID:   q.ID,
		QuestionText: q.Text,
		KeyPoints:    make([]keyPointResponse, len(q.KeyPoints)),
	}
	for i, kp := range q.KeyPoints {
		d.KeyPoints[i] = keyPointResponse{Text: kp.Text, Weight: kp.Weight}
	}
	return d
}

func answerHandler(deps app.EvaluatorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answerRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(deps.Log, w, r, err)
			return
		}
		evaluate(deps, w, r, req.QuestionID, req.UserAnswer)
	}
}

func uploadAnswerHandler(deps app.EvaluatorDeps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFileSize+1<<16)

		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		content, err := io.ReadAll(file)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to read file", err, http.StatusInternalServerError)
			return
		}
		text, err := extractText(header.Filename, header.Header.Get("Content-Type"), content)
		if err != nil {
			httputil.Fail(deps.Log, w, err.Error(), err, http.StatusBadRequest)
			return
		}
		evaluate(deps, w, r, r.FormValue("question_id"), text)
	}
}

func evaluate(deps app.EvaluatorDeps, w http.ResponseWriter, r *http.Request, questionID, answer string) {
	res, err := deps.Evaluator.Evaluate(r.Context(), questionID, answer)
	if err != nil {
		httputil.WriteError(deps.Log, w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func submitQuestionHandler(deps app.EvaluatorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var draft authoring.Draft
		if err := httputil.DecodeJSON(w, r, &draft); err != nil {
			httputil.WriteError(deps.Log, w, r, err)
			return
		}
		if err := draft.Validate(); err != nil {
			httputil.WriteError(deps.Log, w, r, err)
			return
		}

		task, err := queue.NewTask(queue.TaskTypeAuthor, draft)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to encode draft", err, http.StatusInternalServerError)
			return
		}
		if err := queue.EnqueueWithRetry(r.Context(), deps.Queue, task, 3, 200*time.Millisecond); err != nil {
			httputil.Fail(deps.Log, w, "failed to enqueue question; please retry", err, http.StatusServiceUnavailable)
			return
		}

		deps.Log.Info("question draft queued", "question_id", draft.QuestionID, "task_id", task.ID)
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"question_id": draft.QuestionID,
			"status":      "queued",
		})
	}
}

// extractText returns the plain text of an uploaded .txt or .pdf answer.
func extractText(filename, contentType string, content []byte) (string, error) {
	kind := strings.ToLower(filepath.Ext(filename))
	if kind == "" {
		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			kind = ".txt"
		case strings.HasPrefix(contentType, "application/pdf"):
			kind = ".pdf"
		}
	}

	switch kind {
	case ".txt":
		return string(content), nil
	case ".pdf":
		text, err := extractPDF(content)
		if err != nil {
			return "", fmt.Errorf("could not read PDF: %w", err)
		}
		return text, nil
	default:
		return "", errUnsupportedFile
	}
}

func extractPDF(content []byte) (string, error) {
	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, int64(len(content)))
	if err != nil {
		return "", err
	}

	var textBuilder strings.Builder
	numPages := pdfReader.NumPage()

	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := pdfReader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}
