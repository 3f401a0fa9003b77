package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/avelov/tg-pulse/core/config"
	"github.com/avelov/tg-pulse/domains/ai"
)

// GeminiProvider talks to the Gemini API through the official genai SDK.
type GeminiProvider struct {
	cfg config.AIConfig
}

func NewGeminiProvider(cfg config.AIConfig) *GeminiProvider {
	return &GeminiProvider{cfg: cfg}
}

func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func (p *GeminiProvider) GenerateCaption(ctx context.Context, img *ai.Image, contextText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	client, err := p.newClient(ctx)
	if err != nil {
		return "", fmt.Errorf("gemini client: %w", err)
	}

	parts := []*genai.Part{{Text: captionUserPrompt(contextText)}}
	if img != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MimeType, Data: img.Data}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	result, err := client.Models.GenerateContent(ctx, p.cfg.Model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(captionSystemPrompt(p.cfg.CaptionLanguage), ""),
	})
	if err != nil {
		return "", fmt.Errorf("gemini caption request: %w", err)
	}

	text, err := extractText(result)
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"model": p.cfg.Model,
		"chars": len(text),
	}).Debug("[GEMINI] Caption generated")

	return sanitizeCaption(text)
}

func (p *GeminiProvider) GeneratePollOptions(ctx context.Context, img *ai.Image, question string, count int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	client, err := p.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	parts := []*genai.Part{{Text: optionsUserPrompt(question, count, p.cfg.CaptionLanguage)}}
	if img != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MimeType, Data: img.Data}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	result, err := client.Models.GenerateContent(ctx, p.cfg.Model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(captionSystemPrompt(p.cfg.CaptionLanguage), ""),
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"options": {
					Type:  genai.TypeArray,
					Items: &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{"options"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini options request: %w", err)
	}

	text, err := extractText(result)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Options []string `json:"options"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("gemini options response is not valid JSON: %w", err)
	}

	return sanitizeOptions(parsed.Options, count)
}

// extractText concatenates the text parts of the first candidate. Walking the
// parts directly is more robust than result.Text() when the model mixes part
// kinds in one candidate.
func extractText(result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}
	candidate := result.Candidates[0]
	if candidate.Content == nil {
		return "", fmt.Errorf("gemini candidate has no content")
	}
	var fullText string
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			fullText += part.Text
		}
	}
	if fullText == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return fullText, nil
}

var _ ai.ICaptioner = (*GeminiProvider)(nil)
