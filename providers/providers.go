package providers

import (
	"fmt"
	"strings"

	"github.com/avelov/tg-pulse/core/config"
	"github.com/avelov/tg-pulse/domains/ai"
)

// NewCaptioner selects the provider implementation configured by AI_PROVIDER.
func NewCaptioner(cfg config.AIConfig) (ai.ICaptioner, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "gemini":
		return NewGeminiProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.Provider)
	}
}

func captionSystemPrompt(language string) string {
	return "Ты остроумный автор подписей к картинкам. " +
		"Твоя задача — смешно, но без токсичности, оскорблений и политики. " +
		"Никаких лишних слов — только готовая подпись. " +
		"Язык ответа: " + language + "."
}

func captionUserPrompt(contextText string) string {
	prompt := "Придумай одну короткую смешную подпись (до 120 символов) к картинке. " +
		"Верни только подпись, без кавычек, без хэштегов, без объяснений."
	if contextText != "" {
		prompt += "\nКонтекст/подпись автора поста: " + contextText
	}
	return prompt
}

func optionsUserPrompt(question string, count int, language string) string {
	return fmt.Sprintf(
		"Вопрос опроса: %q. Придумай ровно %d коротких смешных вариантов ответа "+
			"(каждый до 90 символов), по возможности привязанных к картинке. "+
			"Язык: %s.",
		question, count, language,
	)
}

// sanitizeCaption flattens the model output into a single usable caption line.
func sanitizeCaption(text string) (string, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if text == "" {
		return "", fmt.Errorf("AI returned an empty caption")
	}
	if len(text) > 400 {
		text = text[:400]
	}
	return text, nil
}

// sanitizeOptions enforces the configured option count and Telegram's
// 100-character option limit.
func sanitizeOptions(options []string, count int) ([]string, error) {
	cleaned := make([]string, 0, count)
	for _, opt := range options {
		opt = strings.TrimSpace(strings.ReplaceAll(opt, "\n", " "))
		if opt == "" {
			continue
		}
		if len(opt) > 100 {
			opt = opt[:100]
		}
		cleaned = append(cleaned, opt)
		if len(cleaned) == count {
			break
		}
	}
	if len(cleaned) < count {
		return nil, fmt.Errorf("AI returned %d usable options, need %d", len(cleaned), count)
	}
	return cleaned, nil
}

func guessMime(data []byte) string {
	if len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n" {
		return "image/png"
	}
	if len(data) >= 2 && data[0] == 0xff && data[1] == 0xd8 {
		return "image/jpeg"
	}
	return "application/octet-stream"
}
