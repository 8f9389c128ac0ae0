package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"epicdesk/internal/chat"
)

// OpenAIClient implements chat.CompletionClient by calling the OpenAI
// SDK directly. Also used for every OpenAI-compatible provider (DeepSeek,
// Groq) by swapping the base URL.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAI completion client.
func NewOpenAIClient(apiKey, modelName, baseURL string) (*OpenAIClient, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  modelName,
	}, nil
}

type openaiStream struct {
	frags  chan string
	done   chan struct{}
	cancel context.CancelFunc
	abort  sync.Once

	text string
	err  error
}

func (s *openaiStream) Fragments() <-chan string { return s.frags }

func (s *openaiStream) Final(ctx context.Context) (string, error) {
	select {
	case <-s.done:
		return s.text, s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *openaiStream) Abort() {
	s.abort.Do(s.cancel)
}

// OpenStream implements chat.CompletionClient.OpenStream.
func (c *OpenAIClient) OpenStream(ctx context.Context, systemPrompt string, messages []chat.Message) (chat.CompletionStream, error) {
	openaiMsgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		openaiMsgs = append(openaiMsgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == chat.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		openaiMsgs = append(openaiMsgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: openaiMsgs,
		Stream:   true,
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := c.client.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		cancel()
		return nil, chat.WrapUpstreamError(err, extractStatusCode(err))
	}

	st := &openaiStream{
		frags:  make(chan string, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(st.done)
		defer close(st.frags)
		defer stream.Close()

		var full strings.Builder
		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					st.text = full.String()
					return
				}
				st.err = chat.WrapUpstreamError(err, extractStatusCode(err))
				return
			}
			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			full.WriteString(delta)
			select {
			case st.frags <- delta:
			case <-streamCtx.Done():
				// Keep draining so Recv surfaces the cancellation error.
			}
		}
	}()

	return st, nil
}

// extractStatusCode pulls an HTTP status out of an SDK error. Errors that
// carry no recognizable status return 0 and leave classification to the
// message text.
func extractStatusCode(err error) int {
	if err == nil {
		return 0
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "429"):
		return http.StatusTooManyRequests
	case strings.Contains(errStr, "401"):
		return http.StatusUnauthorized
	case strings.Contains(errStr, "403"):
		return http.StatusForbidden
	case strings.Contains(errStr, "500"):
		return http.StatusInternalServerError
	case strings.Contains(errStr, "502"):
		return http.StatusBadGateway
	case strings.Contains(errStr, "503"):
		return http.StatusServiceUnavailable
	case strings.Contains(errStr, "504"):
		return http.StatusGatewayTimeout
	}
	return 0
}
