package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"guestmail/internal/domain"
)

const (
	openAIDefaultModel = "gpt-3.5-turbo"
	defaultTimeout     = 120 * time.Second
	defaultMaxRetries  = 2
)

// OpenAI implements domain.Provider against the chat completions API of
// OpenAI or any compatible endpoint.
type OpenAI struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

type OpenAIConfig struct {
	APIKey     string
	APIBase    string // empty uses the SDK default
	Model      string
	Timeout    time.Duration
	MaxRetries int // transient 429/5xx retries handled by the SDK
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		client: openai.NewClient(openAIOptions(cfg.APIKey, cfg.APIBase, cfg.Timeout, cfg.MaxRetries)...),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func openAIOptions(apiKey, apiBase string, timeout time.Duration, retries int) []option.RequestOption {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if retries < 0 {
		retries = defaultMaxRetries
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(retries),
	}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return opts
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Healthy(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai not reachable: %w", err)
	}
	return nil
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	latency := time.Since(start).Milliseconds()

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}
	choice := resp.Choices[0]

	o.logger.Debug("openai chat complete",
		"model", model,
		"finish_reason", choice.FinishReason,
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", latency,
	)

	return &domain.ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		LatencyMs: latency,
	}, nil
}

// OpenAIEmbedder implements domain.Embedder with the embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

type OpenAIEmbedderConfig struct {
	APIKey     string
	APIBase    string
	Model      string // e.g. text-embedding-3-small
	Timeout    time.Duration
	MaxRetries int
}

func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(openAIOptions(cfg.APIKey, cfg.APIBase, cfg.Timeout, cfg.MaxRetries)...),
		model:  cfg.Model,
	}
}

func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed returns one vector per input text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", idx)
		}
		vec := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			vec[i] = float32(x)
		}
		out[idx] = vec
	}
	return out, nil
}
