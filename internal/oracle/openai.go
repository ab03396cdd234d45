package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultSystemPrompt frames every call that has no override.
const DefaultSystemPrompt = "You are an autonomous personal assistant working through your own task list. Be concise and concrete."

// Config selects the endpoints and models used by the OpenAI adapter.
type Config struct {
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	LocalBaseURL string        `yaml:"local_base_url"`
	LocalModel   string        `yaml:"local_model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// DefaultConfig returns a config for the hosted API plus a local
// OpenAI-compatible server.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api.openai.com/v1/",
		Model:        "gpt-4o-mini",
		APIKeyEnv:    "OPENAI_API_KEY",
		LocalBaseURL: "http://127.0.0.1:11434/v1/",
		LocalModel:   "llama3.1",
		Timeout:      2 * time.Minute,
		MaxRetries:   2,
	}
}

// OpenAI is an Oracle backed by the chat completions API.
type OpenAI struct {
	cfg    Config
	remote openai.Client
	local  *openai.Client
	logger *slog.Logger
}

// NewOpenAI builds the adapter. The API key is read from the environment
// variable named by cfg.APIKeyEnv.
func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	key := os.Getenv(cfg.APIKeyEnv)
	o := &OpenAI{
		cfg:    cfg,
		remote: openai.NewClient(clientOptions(cfg.BaseURL, key, cfg.MaxRetries)...),
		logger: logger,
	}
	if cfg.LocalBaseURL != "" && cfg.LocalModel != "" {
		c := openai.NewClient(clientOptions(cfg.LocalBaseURL, "local", cfg.MaxRetries)...)
		o.local = &c
	}
	return o
}

func clientOptions(baseURL, key string, retries int) []option.RequestOption {
	opts := []option.RequestOption{option.WithMaxRetries(retries)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	return opts
}

// Reason sends one system+user exchange and returns the first choice.
func (o *OpenAI) Reason(ctx context.Context, prompt string, opts Options) Result {
	client, model := &o.remote, o.cfg.Model
	if opts.LocalModel && o.local != nil {
		client, model = o.local, o.cfg.LocalModel
	}
	system := DefaultSystemPrompt
	if opts.SystemOverride != "" {
		system = opts.SystemOverride
	}

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		o.logger.Warn("oracle call failed", "source", opts.Source, "model", model, "error", err)
		return Failure(fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return Failure(errors.New("chat completion returned no choices"))
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	o.logger.Debug("oracle call",
		"source", opts.Source,
		"model", model,
		"duration", time.Since(start),
		"chars", len(text),
	)
	if text == "" {
		return Failure(errors.New("chat completion returned empty content"))
	}
	return Success(text)
}
