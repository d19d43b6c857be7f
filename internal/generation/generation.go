// Package generation holds the request and result model shared by the HTTP
// layer, the batch orchestrator and the provider client.
package generation

import (
	"context"
	"strings"
)

const (
	DefaultAspectRatio = "9:16"
	DefaultQuality     = "2K"
	DefaultImageMIME   = "image/png"
)

// DefaultPrompt is sent when the caller supplies no prompt text.
const DefaultPrompt = `Use the face from the first reference image(s) and place it onto the person in the last image.
Keep the pose, body, clothing, hair style, background, lighting and camera angle of the last image unchanged.
Preserve the identity, facial features, skin tone and expression details of the reference face.
Blend the face naturally with matching lighting, color grading and skin texture.
Return a single photorealistic image.`

// UploadedImage is one file received from the caller. It is never mutated and
// lives only for the duration of the HTTP request.
type UploadedImage struct {
	MIMEType     string
	Data         []byte
	OriginalName string
}

// Options are the caller-supplied generation settings.
type Options struct {
	Prompt      string
	AspectRatio string
	Quality     string
}

// WithDefaults fills empty aspect ratio and quality fields.
func (o Options) WithDefaults() Options {
	if strings.TrimSpace(o.AspectRatio) == "" {
		o.AspectRatio = DefaultAspectRatio
	}
	if strings.TrimSpace(o.Quality) == "" {
		o.Quality = DefaultQuality
	}
	return o
}

// Request is one provider call: face references first, target image last.
type Request struct {
	Prompt      string
	Images      []UploadedImage
	AspectRatio string
	Quality     string
}

// NewRequest assembles the request for one target image.
func NewRequest(faces []UploadedImage, target UploadedImage, opts Options) Request {
	opts = opts.WithDefaults()
	images := make([]UploadedImage, 0, len(faces)+1)
	images = append(images, faces...)
	images = append(images, target)
	return Request{
		Prompt:      opts.Prompt,
		Images:      images,
		AspectRatio: opts.AspectRatio,
		Quality:     opts.Quality,
	}
}

// ResolvePrompt trims text and falls back to DefaultPrompt when nothing is left.
func ResolvePrompt(text string) string {
	if trimmed := strings.TrimSpace(text); trimmed != "" {
		return trimmed
	}
	return DefaultPrompt
}

// Generator performs a single generation call against a provider.
// A returned error means the call itself broke (network, decoding); provider
// refusals are reported through Result.Failure.
type Generator interface {
	Generate(ctx context.Context, apiKey string, req Request) (Result, error)
}
