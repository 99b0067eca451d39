package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"estatechat/internal/config"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Generator produces the assistant reply for a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Service sends prompts to the configured chat model, optionally through a tool-using agent.
type Service struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
	log       *zap.Logger
}

var _ Generator = (*Service)(nil)

// NewService builds the chat model for cfg.Assistant.Provider using apiKey.
func NewService(ctx context.Context, cfg *config.Config, apiKey string, log *zap.Logger) (*Service, error) {
	if apiKey == "" {
		return nil, config.ErrMissingAPIKey
	}
	provider := cfg.Assistant.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	chatModel, err := NewChatModel(ctx, provider, provCfg, cfg.Model(), apiKey)
	if err != nil {
		return nil, err
	}

	var tools []tool.BaseTool
	if cfg.Assistant.WebSearch {
		ws, err := NewWebSearchTool(ctx, log)
		if err != nil {
			return nil, err
		}
		if ws != nil {
			tools = append(tools, ws)
		}
	}
	return NewWithModel(ctx, chatModel, tools, log)
}

// NewWithModel wraps an existing chat model. A react agent is built only when tools are given.
func NewWithModel(ctx context.Context, chatModel model.ToolCallingChatModel, tools []tool.BaseTool, log *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{chatModel: chatModel, log: log}
	if len(tools) > 0 {
		agent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
		s.agent = agent
	}
	return s, nil
}

// NewChatModel creates the eino chat model for a provider.
func NewChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, modelName, apiKey string) (model.ToolCallingChatModel, error) {
	if modelName == "" {
		modelName = provCfg.Model
	}
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  apiKey,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		maxTokens := provCfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 3000
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    apiKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

// Generate sends prompt as a single user message and returns the reply text.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	input := []*schema.Message{schema.UserMessage(prompt)}

	var (
		resp *schema.Message
		err  error
	)
	if s.agent != nil {
		resp, err = s.agent.Generate(ctx, input)
	} else {
		resp, err = s.chatModel.Generate(ctx, input)
	}
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyResponse
	}
	s.log.Debug("generated reply", zap.Int("prompt_len", len(prompt)), zap.Int("reply_len", len(resp.Content)))
	return resp.Content, nil
}
