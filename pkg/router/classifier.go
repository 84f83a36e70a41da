package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/convobank/orchestrator/pkg/config"
)

// Classifier is the fallback classification tier consulted when keyword
// scoring cannot commit. Implementations must be bounded in time; the
// router treats any error as "default to account".
type Classifier interface {
	Classify(ctx context.Context, message string) (config.Category, error)
}

// LLMClassifier asks a small text model for exactly one category token.
// One call, temperature 0, hard timeout; no retries — a slow classifier is
// worse than a default route.
type LLMClassifier struct {
	model   llms.Model
	cfg     config.ClassifierConfig
	prompt  string
	byLabel map[string]config.Category
}

// NewLLMClassifier builds a classifier against an OpenAI-compatible
// completion endpoint.
func NewLLMClassifier(cfg config.ClassifierConfig) (*LLMClassifier, error) {
	model, err := openai.New(
		openai.WithBaseURL(cfg.URL),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create classifier client: %w", err)
	}
	return newLLMClassifier(model, cfg), nil
}

func newLLMClassifier(model llms.Model, cfg config.ClassifierConfig) *LLMClassifier {
	categories := config.Categories()
	labels := make([]string, len(categories))
	byLabel := make(map[string]config.Category, len(categories))
	for i, c := range categories {
		labels[i] = string(c)
		byLabel[string(c)] = c
	}

	return &LLMClassifier{
		model: model,
		cfg:   cfg,
		prompt: "You are a routing classifier for a banking assistant. " +
			"Classify the user message into exactly one of these categories: " +
			strings.Join(labels, ", ") + ". " +
			"Reply with only the category token, nothing else.\n\nMessage: %s",
		byLabel: byLabel,
	}
}

// Classify returns the category the model names, or an error on timeout,
// transport failure, or an output that is not a known category token.
func (c *LLMClassifier) Classify(ctx context.Context, message string) (config.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	output, err := llms.GenerateFromSinglePrompt(ctx, c.model,
		fmt.Sprintf(c.prompt, message),
		llms.WithTemperature(0),
		llms.WithMaxTokens(c.cfg.MaxTokens),
	)
	if err != nil {
		return config.CategoryUnknown, fmt.Errorf("classifier call: %w", err)
	}

	label := strings.ToLower(strings.TrimSpace(output))
	category, ok := c.byLabel[label]
	if !ok {
		slog.Debug("Classifier emitted unrecognized label", "label", label)
		return config.CategoryUnknown, fmt.Errorf("unrecognized category label %q", label)
	}
	return category, nil
}
