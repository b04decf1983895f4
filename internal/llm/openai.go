package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient calls the OpenAI Chat Completions API.
type OpenAIClient struct {
	model  openai.ChatModel
	client *openai.Client
}

const (
	defaultChatTimeout     = 30 * time.Second
	defaultChatTemperature = 0.2
	maxKeyPoints           = 8
)

const extractSystemPrompt = "You write grading rubrics. Given a question and its model answer, " +
	"list the distinct facts a complete answer must contain. Output one fact per line as a bullet (using - or *). " +
	"Each fact must be a short standalone sentence. Do not add commentary."

// NewOpenAIClient builds a client with defaults against api.openai.com.
func NewOpenAIClient(apiKey string, model openai.ChatModel, opts ...option.RequestOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	cli := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIClient{
		model:  model,
		client: &cli,
	}, nil
}

func (c *OpenAIClient) ExtractKeyPoints(ctx context.Context, question, modelAnswer string) ([]string, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("nil openai client")
	}
	reqCtx, cancel := context.WithTimeout(ctx, defaultChatTimeout)
	defer cancel()
	messages := buildMessages(
		extractSystemPrompt,
		fmt.Sprintf("Question: %s\n\nModel answer:\n%s", question, modelAnswer),
	)
	resp, err := c.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(defaultChatTemperature),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("openai: no choices returned")
	}
	points := extractBullets(resp.Choices[0].Message.Content, maxKeyPoints)
	if len(points) == 0 {
		return nil, ErrNoKeyPoints
	}
	return points, nil
}

func buildMessages(system, user string) []openai.ChatCompletionMessageParamUnion {
	return []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(system),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: openai.String(user),
				},
			},
		},
	}
}

// extractBullets keeps the bullet and numbered lines of a response, deduplicated
// case-insensitively and capped at limit. Prose lines are dropped.
func extractBullets(content string, limit int) []string {
	seen := make(map[string]struct{})
	var points []string
	for _, line := range strings.Split(content, "\n") {
		point, ok := bulletText(strings.TrimSpace(line))
		if !ok || point == "" {
			continue
		}
		key := strings.ToLower(point)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		points = append(points, point)
		if limit > 0 && len(points) == limit {
			break
		}
	}
	return points
}

func bulletText(line string) (string, bool) {
	switch {
	case strings.HasPrefix(line, "-"), strings.HasPrefix(line, "*"), strings.HasPrefix(line, "•"):
		return strings.TrimSpace(strings.TrimLeft(line, "-*• ")), true
	}
	// "1." or "1)"
	i := 0
	for i < len(line) && unicode.IsDigit(rune(line[i])) {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:]), true
	}
	return "", false
}
