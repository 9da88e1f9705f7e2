package draft

import (
	"context"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = "You are Kuria, a business analysis system. " +
	"You analyze real company data. Your answers are factual, direct and " +
	"actionable. You never guess; when the data is insufficient, you say so."

// Anthropic drafts text through the Claude Messages API. Explain and Draft
// use the fast model; Generate uses the larger one.
type Anthropic struct {
	client     anthropic.Client
	fastModel  anthropic.Model
	largeModel anthropic.Model
	logger     *slog.Logger
}

// NewAnthropic creates an Anthropic drafter. Model names come from config
// so deployments can pin versions.
func NewAnthropic(apiKey, fastModel, largeModel string, logger *slog.Logger) *Anthropic {
	return &Anthropic{
		client:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		fastModel:  anthropic.Model(fastModel),
		largeModel: anthropic.Model(largeModel),
		logger:     logger,
	}
}

func (a *Anthropic) Explain(ctx context.Context, data map[string]any, instruction string) string {
	return a.ask(ctx, a.fastModel, 150, 0.2, data, instruction)
}

func (a *Anthropic) Draft(ctx context.Context, data map[string]any, instruction string) string {
	return a.ask(ctx, a.fastModel, 300, 0.3, data, instruction)
}

func (a *Anthropic) Generate(ctx context.Context, data map[string]any, instruction string) string {
	return a.ask(ctx, a.largeModel, 1500, 0.4, data, instruction)
}

// ask is the single entry point for every model call. Errors are logged and
// swallowed; the empty return tells callers to use their fallback.
func (a *Anthropic) ask(ctx context.Context, model anthropic.Model, maxTokens int64, temperature float64, data map[string]any, instruction string) string {
	user := instruction
	if contextText := FormatContext(data); contextText != "" {
		user = contextText + "\n\n" + instruction
	}

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		a.logger.Error("draft request failed", "model", model, "error", err)
		return ""
	}

	a.logger.Info("draft request completed",
		"model", model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.AsText().Text
		}
	}
	return out
}
