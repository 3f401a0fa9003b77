package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"

	"github.com/avelov/tg-pulse/core/config"
	"github.com/avelov/tg-pulse/domains/ai"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (OpenAI itself, Timeweb AI agents, local gateways) selected via AI_BASE_URL.
type OpenAIProvider struct {
	client openai.Client
	cfg    config.AIConfig
}

func NewOpenAIProvider(cfg config.AIConfig) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}
}

func (p *OpenAIProvider) GenerateCaption(ctx context.Context, img *ai.Image, contextText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	contentParts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(captionUserPrompt(contextText)),
	}
	if img != nil {
		contentParts = append(contentParts, imageContentPart(img))
	}

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(captionSystemPrompt(p.cfg.CaptionLanguage)),
			openai.UserMessage(contentParts),
		},
		Temperature: openai.Float(0.9),
		MaxTokens:   openai.Int(80),
	})
	if err != nil {
		return "", fmt.Errorf("caption request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("caption response had no choices")
	}

	logrus.WithFields(logrus.Fields{
		"model":  p.cfg.Model,
		"tokens": completion.Usage.TotalTokens,
	}).Debug("[AI] Caption generated")

	return sanitizeCaption(completion.Choices[0].Message.Content)
}

func (p *OpenAIProvider) GeneratePollOptions(ctx context.Context, img *ai.Image, question string, count int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	contentParts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(optionsUserPrompt(question, count, p.cfg.CaptionLanguage)),
	}
	if img != nil {
		contentParts = append(contentParts, imageContentPart(img))
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"options": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required":             []string{"options"},
		"additionalProperties": false,
	}

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(contentParts),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "poll_options",
					Schema: any(schema),
					Strict: openai.Bool(true),
				},
			},
		},
		Temperature: openai.Float(0.9),
	})
	if err != nil {
		return nil, fmt.Errorf("poll options request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("poll options response had no choices")
	}

	var result struct {
		Options []string `json:"options"`
	}
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("failed to parse poll options JSON: %w", err)
	}

	return sanitizeOptions(result.Options, count)
}

func imageContentPart(img *ai.Image) openai.ChatCompletionContentPartUnionParam {
	mime := img.MimeType
	if mime == "" {
		mime = guessMime(img.Data)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data))
	return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
		URL: dataURL,
	})
}

var _ ai.ICaptioner = (*OpenAIProvider)(nil)
