package providers

import (
	"context"
	"strings"
	"sync"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"epicdesk/internal/chat"
)

// AnthropicClient implements chat.CompletionClient by calling the
// Anthropic SDK directly.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a new Anthropic completion client.
func NewAnthropicClient(apiKey, modelName string) (*AnthropicClient, error) {
	return &AnthropicClient{
		client: anthropic.NewClient(apiKey),
		model:  modelName,
	}, nil
}

// anthropicStream adapts the SDK's callback-based streaming to the
// channel-plus-final contract.
type anthropicStream struct {
	frags  chan string
	done   chan struct{}
	cancel context.CancelFunc
	abort  sync.Once

	// Written before done is closed, read only after.
	text string
	err  error
}

func (s *anthropicStream) Fragments() <-chan string { return s.frags }

func (s *anthropicStream) Final(ctx context.Context) (string, error) {
	select {
	case <-s.done:
		return s.text, s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *anthropicStream) Abort() {
	s.abort.Do(s.cancel)
}

// OpenStream implements chat.CompletionClient.OpenStream.
func (c *AnthropicClient) OpenStream(ctx context.Context, systemPrompt string, messages []chat.Message) (chat.CompletionStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	st := &anthropicStream{
		frags:  make(chan string, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	anthropicMsgs := make([]anthropic.Message, 0, len(messages))
	for _, msg := range messages {
		role := anthropic.RoleUser
		if msg.Role == chat.RoleAssistant {
			role = anthropic.RoleAssistant
		}
		anthropicMsgs = append(anthropicMsgs, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
		})
	}

	req := anthropic.MessagesStreamRequest{
		MessagesRequest: anthropic.MessagesRequest{
			Model:     anthropic.Model(c.model),
			Messages:  anthropicMsgs,
			MaxTokens: 4096,
		},
	}
	if systemPrompt != "" {
		req.MultiSystem = []anthropic.MessageSystemPart{{
			Type: "text",
			Text: systemPrompt,
		}}
	}

	var full strings.Builder
	req.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
		if delta.Delta.Type != "text_delta" || delta.Delta.Text == nil {
			return
		}
		full.WriteString(*delta.Delta.Text)
		select {
		case st.frags <- *delta.Delta.Text:
		case <-streamCtx.Done():
		}
	}

	go func() {
		defer close(st.done)
		defer close(st.frags)

		// Callbacks fire while CreateMessagesStream runs; it returns only
		// once the stream has settled.
		_, err := c.client.CreateMessagesStream(streamCtx, req)
		if err != nil {
			st.err = chat.WrapUpstreamError(err, extractStatusCode(err))
			return
		}
		st.text = full.String()
	}()

	return st, nil
}
