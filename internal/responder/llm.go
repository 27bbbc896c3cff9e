package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/sortify/internal/chat"
	"github.com/raphaelgruber/sortify/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const systemPrompt = `You are Sortify, a friendly recycling assistant. Answer questions about sorting waste,
recycling specific materials, finding recycling centers and living more sustainably.
Keep answers to two or three sentences. If a question is unrelated to recycling or
sustainability, steer the user back politely.`

// DefaultLLMTimeout bounds a single generation.
const DefaultLLMTimeout = 20 * time.Second

// ErrFatalAPI marks provider errors that will not go away on retry, such as
// a bad key or an exhausted quota.
var ErrFatalAPI = errors.New("fatal LLM API error")

// LLM replies through a language model and falls back to keyword rules
// when generation fails. After a fatal provider error it stops calling the
// model for the rest of the process.
type LLM struct {
	llm       llms.Model
	modelName string
	fallback  chat.Responder
	timeout   time.Duration
	logger    *slog.Logger
	disabled  atomic.Bool
}

var _ chat.Responder = (*LLM)(nil)

// NewLLM creates an LLM responder for the configured provider.
func NewLLM(cfg config.Config, fallback chat.Responder, logger *slog.Logger) (*LLM, error) {
	var model llms.Model
	var err error

	switch cfg.Responder {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Responder)
	}

	return newLLM(model, cfg.LLMModel, fallback, logger), nil
}

func newLLM(model llms.Model, name string, fallback chat.Responder, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback == nil {
		fallback = Default()
	}
	return &LLM{
		llm:       model,
		modelName: name,
		fallback:  fallback,
		timeout:   DefaultLLMTimeout,
		logger:    logger,
	}
}

// Model returns the LLM model name.
func (m *LLM) Model() string {
	return m.modelName
}

// Reply asks the model; any failure yields the keyword reply instead.
func (m *LLM) Reply(text string) string {
	if m.disabled.Load() {
		return m.fallback.Reply(text)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	start := time.Now()
	reply, err := m.generate(ctx, text)
	if err != nil {
		err = wrapFatalError(err)
		if errors.Is(err, ErrFatalAPI) {
			m.disabled.Store(true)
			m.logger.Error("disabling LLM replies", "model", m.modelName, "error", err)
		} else {
			m.logger.Warn("LLM reply failed, using keyword reply", "model", m.modelName, "error", err)
		}
		return m.fallback.Reply(text)
	}

	m.logger.Debug("LLM reply", "model", m.modelName, "duration_ms", time.Since(start).Milliseconds())
	return reply
}

func (m *LLM) generate(ctx context.Context, text string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	reply := strings.TrimSpace(response.Choices[0].Content)
	if reply == "" {
		return "", fmt.Errorf("empty response")
	}
	return reply, nil
}

// isFatalAPIError reports errors caused by credentials, billing or quota.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"credit balance", "rate limit", "quota", "billing",
		"invalid api key", "authentication", "unauthorized", "401", "403",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}
