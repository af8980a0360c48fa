package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultOpenAIModel = openai.ChatModelGPT5Nano
	openAIContextTurns = 20
)

// OpenAIConversation answers with a chat completion model. It keeps a short
// rolling transcript so follow-up questions have context.
type OpenAIConversation struct {
	client   openai.Client
	model    openai.ChatModel
	system   string
	delegate Delegate

	mu         sync.Mutex
	transcript []openai.ChatCompletionMessageParamUnion
	closed     bool
}

func openAIFactory(cfg Config) Factory {
	return func(ctx context.Context, d Delegate) (Conversation, error) {
		opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIKey)}
		if cfg.HTTPClient != nil {
			opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
		}
		if base := strings.TrimSpace(cfg.OpenAIBaseURL); base != "" {
			opts = append(opts, option.WithBaseURL(base))
		}
		return NewOpenAIConversation(cfg, d, opts...), nil
	}
}

func NewOpenAIConversation(cfg Config, d Delegate, opts ...option.RequestOption) *OpenAIConversation {
	model := openai.ChatModel(strings.TrimSpace(cfg.OpenAIModel))
	if model == "" {
		model = defaultOpenAIModel
	}
	system := "You are Almond, a helpful virtual assistant running on the user's desktop. Answer in one or two short spoken sentences."
	if cfg.Locale != "" || cfg.Timezone != "" {
		system += fmt.Sprintf(" The user's locale is %q and timezone is %q.", cfg.Locale, cfg.Timezone)
	}
	return &OpenAIConversation{
		client:   openai.NewClient(opts...),
		model:    model,
		system:   system,
		delegate: d,
	}
}

func (c *OpenAIConversation) HandleCommand(ctx context.Context, text string) error {
	return c.complete(ctx, text)
}

func (c *OpenAIConversation) HandleParsedCommand(ctx context.Context, json string) error {
	if _, err := parsedFrame(json); err != nil {
		return err
	}
	return c.complete(ctx, "I selected this structured command: "+json)
}

func (c *OpenAIConversation) HandleThingTalk(ctx context.Context, code string) error {
	return c.complete(ctx, "Please run this ThingTalk program and tell me what it does: "+code)
}

func (c *OpenAIConversation) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *OpenAIConversation) complete(ctx context.Context, input string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: conversation closed", ErrUnavailable)
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(c.transcript)+2)
	messages = append(messages, openai.SystemMessage(c.system))
	messages = append(messages, c.transcript...)
	messages = append(messages, openai.UserMessage(input))
	c.mu.Unlock()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    c.model,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
			return fmt.Errorf("openai completion: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: openai completion: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("openai completion returned no choices")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)

	c.mu.Lock()
	c.transcript = append(c.transcript, openai.UserMessage(input), openai.AssistantMessage(reply))
	if over := len(c.transcript) - openAIContextTurns; over > 0 {
		c.transcript = append([]openai.ChatCompletionMessageParamUnion(nil), c.transcript[over:]...)
	}
	c.mu.Unlock()

	if reply != "" {
		if err := c.delegate.SendText(ctx, reply, ""); err != nil {
			return err
		}
	}
	return c.delegate.SendAskSpecial(ctx, "")
}
