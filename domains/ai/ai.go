package ai

import "context"

// Image is a downloaded photo handed to a provider, already bounded in size.
type Image struct {
	Data     []byte
	MimeType string
}

// ICaptioner is the opaque "generate text from image + context" capability.
// Implementations live in providers/ and are selected by AI_PROVIDER.
type ICaptioner interface {
	// GenerateCaption produces one short caption for a channel photo.
	// contextText is the author's original caption, possibly empty.
	GenerateCaption(ctx context.Context, img *Image, contextText string) (string, error)

	// GeneratePollOptions produces exactly count short answer options for the
	// given poll question, using the image as optional context (may be nil).
	GeneratePollOptions(ctx context.Context, img *Image, question string, count int) ([]string, error)
}
