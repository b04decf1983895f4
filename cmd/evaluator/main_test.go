package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"answer-eval/internal/app"
	"answer-eval/internal/cache"
	"answer-eval/internal/config"
	"answer-eval/internal/embeddings"
	"answer-eval/internal/evaluation"
	"answer-eval/internal/feedback"
	"answer-eval/internal/queue"
	"answer-eval/internal/scoring"
	"answer-eval/internal/store"
)

var mitosisKeyPoints = []string{
	"chromosomes are duplicated before division",
	"the cell splits into two identical daughter cells",
}

func newTestDeps(t *testing.T, q queue.Queue, withQuestions bool) app.EvaluatorDeps {
	t.Helper()
	ctx := context.Background()
	emb := embeddings.NewHashingEmbedder(128)
	st := store.NewMemoryStore()

	if withQuestions {
		vecs, err := emb.EmbedBatch(ctx, mitosisKeyPoints)
		require.NoError(t, err)
		require.NoError(t, st.SaveQuestion(ctx, store.Question{
			ID:             "q-1",
			Text:           "Explain mitosis.",
			EmbeddingModel: emb.Model(),
			KeyPoints: []store.KeyPoint{
				{Text: mitosisKeyPoints[0], Weight: 1, Embedding: vecs[0]},
				{Text: mitosisKeyPoints[1], Weight: 1, Embedding: vecs[1]},
			},
		}))
	}

	scorer, err := scoring.New(scoring.DefaultThreshold, scoring.RoundHalfEven)
	require.NoError(t, err)
	composer, err := feedback.NewComposer(feedback.DefaultHighBand, feedback.DefaultLowBand)
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return app.EvaluatorDeps{
		Deps: app.Deps{
			Config:   config.Config{MaxUploadSize: 1024 * 1024},
			Log:      log,
			Store:    st,
			Queue:    q,
			Cache:    cache.NewNoOpCache(),
			Embedder: emb,
		},
		Evaluator: evaluation.New(st, emb, scorer, composer, evaluation.WithLogger(log)),
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestAnswerHandler(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestDeps(t, nil, true)))
	defer srv.Close()

	tests := []struct {
		name       string
		body       any
		wantStatus int
		check      func(*testing.T, evaluation.Result)
	}{
		{
			name:       "partial answer",
			body:       map[string]string{"question_id": "q-1", "user_answer": "chromosomes are duplicated before division"},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, res evaluation.Result) {
				assert.Equal(t, "q-1", res.QuestionID)
				assert.Equal(t, 50, res.Score)
				assert.Equal(t, []string{mitosisKeyPoints[0]}, res.HitKeyPoints)
				assert.Equal(t, []string{mitosisKeyPoints[1]}, res.MissingKeyPoints)
				assert.Contains(t, res.Feedback, "missing 1 key point")
			},
		},
		{
			name:       "unknown question",
			body:       map[string]string{"question_id": "q-999", "user_answer": "anything"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "blank answer",
			body:       map[string]string{"question_id": "q-1", "user_answer": "   "},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing question id",
			body:       map[string]string{"user_answer": "anything"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/answer", tt.body)
			defer resp.Body.Close()
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.check != nil {
				var res evaluation.Result
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
				tt.check(t, res)
			}
		})
	}
}

func TestAnswerHandlerEmbeddingUnavailable(t *testing.T) {
	deps := newTestDeps(t, nil, true)
	emb := new(embeddings.MockEmbedder)
	emb.On("Model").Return(embeddings.HashingModel)
	emb.On("Embed", mock.Anything, "answer").Return(nil, errors.New("upstream 502"))
	scorer, _ := scoring.New(scoring.DefaultThreshold, scoring.RoundHalfEven)
	composer, _ := feedback.NewComposer(feedback.DefaultHighBand, feedback.DefaultLowBand)
	deps.Evaluator = evaluation.New(deps.Store, emb, scorer, composer, evaluation.WithLogger(deps.Log))

	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/answer", map[string]string{"question_id": "q-1", "user_answer": "answer"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestQuestionHandlers(t *testing.T) {
	t.Run("with questions", func(t *testing.T) {
		srv := httptest.NewServer(newRouter(newTestDeps(t, nil, true)))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/question")
		require.NoError(t, err)
		var q questionResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "q-1", q.QuestionID)
		assert.Equal(t, "Explain mitosis.", q.QuestionText)

		resp, err = http.Get(srv.URL + "/api/questions")
		require.NoError(t, err)
		var list []questionDetailResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		resp.Body.Close()
		require.Len(t, list, 1)
		assert.Len(t, list[0].KeyPoints, 2)

		resp, err = http.Get(srv.URL + "/api/status")
		require.NoError(t, err)
		var status map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		resp.Body.Close()
		assert.Equal(t, float64(1), status["questions_loaded"])
	})

	t.Run("empty bank", func(t *testing.T) {
		srv := httptest.NewServer(newRouter(newTestDeps(t, nil, false)))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/question")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestUploadAnswerHandler(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestDeps(t, nil, true)))
	defer srv.Close()

	tests := []struct {
		name       string
		filename   string
		content    []byte
		wantStatus int
		wantScore  int
	}{
		{
			name:       "text answer",
			filename:   "answer.txt",
			content:    []byte("The cell splits into\ntwo identical daughter cells."),
			wantStatus: http.StatusOK,
			wantScore:  50,
		},
		{
			name:       "unsupported type",
			filename:   "answer.docx",
			content:    []byte("irrelevant"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "corrupt pdf",
			filename:   "answer.pdf",
			content:    []byte("not a pdf"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "file too large",
			filename:   "large.txt",
			content:    make([]byte, 2*1024*1024),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing file",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartBody(t, map[string]string{"question_id": "q-1"}, tt.filename, tt.content)
			resp, err := http.Post(srv.URL+"/api/answer/upload", contentType, body)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantStatus == http.StatusOK {
				var res evaluation.Result
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
				assert.Equal(t, tt.wantScore, res.Score)
			}
		})
	}
}

func TestSubmitQuestionHandler(t *testing.T) {
	draft := map[string]any{
		"question_id":   "q-2",
		"question_text": "What is osmosis?",
		"key_points":    []map[string]any{{"text": "water moves across a membrane"}},
	}

	t.Run("disabled without queue", func(t *testing.T) {
		srv := httptest.NewServer(newRouter(newTestDeps(t, nil, true)))
		defer srv.Close()

		resp := postJSON(t, srv.URL+"/api/questions", draft)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("queued", func(t *testing.T) {
		q := new(queue.MockQueue)
		q.On("Enqueue", mock.Anything, mock.MatchedBy(func(task queue.Task) bool {
			return task.Type == queue.TaskTypeAuthor
		})).Return(nil).Once()

		srv := httptest.NewServer(newRouter(newTestDeps(t, q, true)))
		defer srv.Close()

		resp := postJSON(t, srv.URL+"/api/questions", draft)
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		var result map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		assert.Equal(t, "q-2", result["question_id"])
		assert.Equal(t, "queued", result["status"])
		q.AssertExpectations(t)
	})

	t.Run("invalid draft", func(t *testing.T) {
		q := new(queue.MockQueue)
		srv := httptest.NewServer(newRouter(newTestDeps(t, q, true)))
		defer srv.Close()

		resp := postJSON(t, srv.URL+"/api/questions", map[string]any{"question_id": "q-3", "question_text": "No key points?"})
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})
}

func TestExtractText(t *testing.T) {
	text, err := extractText("notes.TXT", "", []byte("plain answer"))
	require.NoError(t, err)
	assert.Equal(t, "plain answer", text)

	text, err = extractText("blob", "text/plain; charset=utf-8", []byte("typed answer"))
	require.NoError(t, err)
	assert.Equal(t, "typed answer", text)

	_, err = extractText("image.png", "image/png", nil)
	assert.ErrorIs(t, err, errUnsupportedFile)
}
