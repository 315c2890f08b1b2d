package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"guestmail/internal/domain"
)

const (
	claudeDefaultModel = "claude-sonnet-4-5"
	defaultMaxTokens   = 1000
)

// Claude implements domain.Provider for the Anthropic Messages API.
type Claude struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

type ClaudeConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

// NewClaude creates a new Claude provider.
func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	return &Claude{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Healthy(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return fmt.Errorf("claude not reachable: %w", err)
	}
	return nil
}

func (c *Claude) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" || !strings.HasPrefix(model, "claude") {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	// System turns travel outside the message list.
	var system []anthropic.TextBlockParam
	var msgs []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case domain.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		System:      system,
		Messages:    msgs,
		Temperature: anthropic.Float(min(req.Temperature, 1)),
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude chat: %w", err)
	}
	latency := time.Since(start).Milliseconds()

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	c.logger.Debug("claude chat complete",
		"model", model,
		"stop_reason", resp.StopReason,
		"latency_ms", latency,
	)

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return &domain.ChatResponse{
		Content:      text.String(),
		FinishReason: string(resp.StopReason),
		Usage:        domain.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
		LatencyMs:    latency,
	}, nil
}
