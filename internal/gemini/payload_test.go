package gemini

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/faceswap-gateway/internal/generation"
)

type wirePayload struct {
	Contents []struct {
		Parts []struct {
			Text       string `json:"text"`
			InlineData *struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"inlineData"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
		ImageConfig        struct {
			AspectRatio string `json:"aspectRatio"`
			ImageSize   string `json:"imageSize"`
		} `json:"imageConfig"`
	} `json:"generationConfig"`
}

func encodePayload(t *testing.T, p *Payload) wirePayload {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var out wirePayload
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestBuildPayloadOrdersPromptFacesTarget(t *testing.T) {
	req := generation.NewRequest(
		[]generation.UploadedImage{
			{MIMEType: "image/jpeg", Data: []byte("face-one")},
			{MIMEType: "image/png", Data: []byte("face-two")},
		},
		generation.UploadedImage{MIMEType: "image/webp", Data: []byte("target")},
		generation.Options{Prompt: "  swap please  ", AspectRatio: "3:4", Quality: "4K"},
	)

	wire := encodePayload(t, BuildPayload(req))

	require.Len(t, wire.Contents, 1)
	parts := wire.Contents[0].Parts
	require.Len(t, parts, 4)

	assert.Equal(t, "swap please", parts[0].Text)
	assert.Nil(t, parts[0].InlineData)

	want := []struct{ mime, data string }{
		{"image/jpeg", "face-one"},
		{"image/png", "face-two"},
		{"image/webp", "target"},
	}
	for i, w := range want {
		part := parts[i+1]
		require.NotNil(t, part.InlineData, "part %d", i+1)
		assert.Equal(t, w.mime, part.InlineData.MIMEType)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(w.data)), part.InlineData.Data)
	}

	assert.Equal(t, []string{"TEXT", "IMAGE"}, wire.GenerationConfig.ResponseModalities)
	assert.Equal(t, "3:4", wire.GenerationConfig.ImageConfig.AspectRatio)
	assert.Equal(t, "4K", wire.GenerationConfig.ImageConfig.ImageSize)
}

func TestBuildPayloadFallsBackToDefaultPrompt(t *testing.T) {
	req := generation.NewRequest(nil, generation.UploadedImage{MIMEType: "image/png", Data: []byte("t")}, generation.Options{Prompt: "   "})

	wire := encodePayload(t, BuildPayload(req))

	assert.Equal(t, generation.DefaultPrompt, wire.Contents[0].Parts[0].Text)
	assert.Equal(t, generation.DefaultAspectRatio, wire.GenerationConfig.ImageConfig.AspectRatio)
	assert.Equal(t, generation.DefaultQuality, wire.GenerationConfig.ImageConfig.ImageSize)
}

func TestBuildPayloadPassesUnvalidatedValues(t *testing.T) {
	req := generation.Request{AspectRatio: "banana", Quality: "17K"}

	wire := encodePayload(t, BuildPayload(req))

	assert.Equal(t, "banana", wire.GenerationConfig.ImageConfig.AspectRatio)
	assert.Equal(t, "17K", wire.GenerationConfig.ImageConfig.ImageSize)
}
