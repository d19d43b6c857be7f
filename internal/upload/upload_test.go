package upload

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/faceswap-gateway/internal/generation"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type filePart struct {
	field, name, contentType string
	data                     []byte
}

func buildForm(t *testing.T, files []filePart, values map[string]string) *multipart.Form {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		if f.contentType != "" {
			header.Set("Content-Type", f.contentType)
		}
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(body, writer.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form
}

var testLimits = Limits{MaxFileBytes: 1 << 20, MaxTargets: 3}

func TestFacesRequiresPrimary(t *testing.T) {
	form := buildForm(t, []filePart{{FieldSecondFace, "b.png", "image/png", pngHeader}}, nil)

	_, err := Faces(form, testLimits)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, FieldFace, vErr.Field)
}

func TestFacesReturnsPrimaryThenSecondary(t *testing.T) {
	form := buildForm(t, []filePart{
		{FieldSecondFace, "second.jpg", "image/jpeg", []byte("jpeg-bytes")},
		{FieldFace, "first.png", "image/png", pngHeader},
	}, nil)

	faces, err := Faces(form, testLimits)
	require.NoError(t, err)
	require.Len(t, faces, 2)
	assert.Equal(t, "first.png", faces[0].OriginalName)
	assert.Equal(t, "second.jpg", faces[1].OriginalName)
	assert.Equal(t, "image/jpeg", faces[1].MIMEType)
}

func TestTargetRequired(t *testing.T) {
	_, err := Target(buildForm(t, nil, nil), testLimits)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, FieldTarget, vErr.Field)
}

func TestTargetsKeepOrderAndEnforceCount(t *testing.T) {
	form := buildForm(t, []filePart{
		{FieldTargets, "1.png", "image/png", pngHeader},
		{FieldTargets, "2.png", "image/png", pngHeader},
	}, nil)

	targets, err := Targets(form, testLimits)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "1.png", targets[0].OriginalName)
	assert.Equal(t, "2.png", targets[1].OriginalName)

	tooMany := buildForm(t, []filePart{
		{FieldTargets, "1.png", "image/png", pngHeader},
		{FieldTargets, "2.png", "image/png", pngHeader},
		{FieldTargets, "3.png", "image/png", pngHeader},
		{FieldTargets, "4.png", "image/png", pngHeader},
	}, nil)
	_, err = Targets(tooMany, testLimits)
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))

	_, err = Targets(buildForm(t, nil, nil), testLimits)
	assert.True(t, errors.As(err, &vErr))
}

func TestReadFileRejectsOversized(t *testing.T) {
	form := buildForm(t, []filePart{{FieldFace, "big.png", "image/png", bytes.Repeat([]byte("a"), 2048)}}, nil)

	_, err := Faces(form, Limits{MaxFileBytes: 1024})

	var tooLarge *TooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, "big.png", tooLarge.Filename)
}

func TestReadFileRejectsNonImage(t *testing.T) {
	form := buildForm(t, []filePart{{FieldFace, "notes.txt", "text/plain", []byte("hello")}}, nil)

	_, err := Faces(form, testLimits)

	var unsupported *UnsupportedTypeError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "text/plain", unsupported.MIMEType)
}

func TestReadFileSniffsGenericContentType(t *testing.T) {
	form := buildForm(t, []filePart{{FieldFace, "upload", "application/octet-stream", pngHeader}}, nil)

	faces, err := Faces(form, testLimits)
	require.NoError(t, err)
	assert.Equal(t, "image/png", faces[0].MIMEType)
}

func TestReadFileRejectsEmpty(t *testing.T) {
	form := buildForm(t, []filePart{{FieldFace, "empty.png", "image/png", nil}}, nil)

	_, err := Faces(form, testLimits)

	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options(buildForm(t, nil, nil))
	assert.Equal(t, generation.DefaultAspectRatio, opts.AspectRatio)
	assert.Equal(t, generation.DefaultQuality, opts.Quality)
	assert.Empty(t, opts.Prompt)

	opts = Options(buildForm(t, nil, map[string]string{
		FieldAspectRatio:  "16:9",
		FieldImageQuality: "1K",
		FieldPrompt:       "keep the hat",
	}))
	assert.Equal(t, "16:9", opts.AspectRatio)
	assert.Equal(t, "1K", opts.Quality)
	assert.Equal(t, "keep the hat", opts.Prompt)
}
