package gemini

import (
	"google.golang.org/genai"

	"github.com/example/faceswap-gateway/internal/generation"
)

// Payload is the JSON body of a generateContent call.
type Payload struct {
	Contents         []*genai.Content `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

// GenerationConfig asks for text and image output at the requested size.
type GenerationConfig struct {
	ResponseModalities []string    `json:"responseModalities"`
	ImageConfig        ImageConfig `json:"imageConfig"`
}

// ImageConfig values are forwarded verbatim; the provider validates them.
type ImageConfig struct {
	AspectRatio string `json:"aspectRatio"`
	ImageSize   string `json:"imageSize"`
}

// BuildPayload turns a request into provider parts: the prompt first, then
// one inline image per upload in request order.
func BuildPayload(req generation.Request) *Payload {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	parts = append(parts, &genai.Part{Text: generation.ResolvePrompt(req.Prompt)})
	for _, img := range req.Images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
		})
	}

	return &Payload{
		Contents: []*genai.Content{{Role: "user", Parts: parts}},
		GenerationConfig: GenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig: ImageConfig{
				AspectRatio: req.AspectRatio,
				ImageSize:   req.Quality,
			},
		},
	}
}
