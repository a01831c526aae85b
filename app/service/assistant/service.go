package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"v2v/app/config"
	"v2v/app/model/chat"

	_ "embed"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

//go:embed system_prompt.txt
var systemPrompt string

const (
	maxReplyDuration = 30 * time.Second
	maxReplyTokens   = 500
)

var ErrNotConfigured = errors.New("OpenAI API key not configured on server")

// Generator is the part of a langchaingo model used to produce replies.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

type Service struct {
	llm Generator
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	if cfg.OpenAI.Token == "" {
		slog.Warn("OpenAI token is not set, chat replies are disabled")
		return NewService(nil), nil
	}

	opts := []openai.Option{
		openai.WithToken(cfg.OpenAI.Token),
		openai.WithModel(cfg.OpenAI.Model),
		openai.WithCallback(LogCallbackHandler{}),
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	return NewService(llm), nil
}

// NewService wraps llm. A nil llm leaves the service unconfigured: Reply then fails with
// ErrNotConfigured.
func NewService(llm Generator) *Service {
	return &Service{
		llm: llm,
	}
}

func (s *Service) Configured() bool {
	return s.llm != nil
}

// Reply asks the model to continue the conversation in history with text.
func (s *Service) Reply(ctx context.Context, history []chat.Message, text string) (string, error) {
	if s.llm == nil {
		return "", ErrNotConfigured
	}

	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, strings.TrimSpace(systemPrompt)))
	messages = append(messages, pie.Map(history, toMessageContent)...)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, text))

	ctx, cancel := context.WithTimeout(ctx, maxReplyDuration)
	defer cancel()

	resp, err := s.llm.GenerateContent(ctx, messages, llms.WithMaxTokens(maxReplyTokens))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no chat completion found")
	}

	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func toMessageContent(msg chat.Message) llms.MessageContent {
	role := llms.ChatMessageTypeHuman
	if msg.Role == chat.RoleAssistant {
		role = llms.ChatMessageTypeAI
	}

	return llms.TextParts(role, msg.Content)
}
