// Package upload turns multipart form fields into in-memory images.
package upload

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/example/faceswap-gateway/internal/generation"
)

// Multipart field names.
const (
	FieldFace         = "faceImage"
	FieldSecondFace   = "faceImage2"
	FieldTarget       = "targetImage"
	FieldTargets      = "targetImages"
	FieldAspectRatio  = "aspectRatio"
	FieldImageQuality = "imageQuality"
	FieldPrompt       = "prompt"
)

// ValidationError reports a missing or malformed required upload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// TooLargeError reports a file over the per-file cap.
type TooLargeError struct {
	Field    string
	Filename string
	Limit    int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("file %q in field %s exceeds the %d MB limit", e.Filename, e.Field, e.Limit>>20)
}

// UnsupportedTypeError reports an upload that is not an image.
type UnsupportedTypeError struct {
	Field    string
	Filename string
	MIMEType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("file %q in field %s has unsupported type %s; only images are accepted", e.Filename, e.Field, e.MIMEType)
}

// Limits bound what a single request may upload.
type Limits struct {
	MaxFileBytes int64
	MaxTargets   int
}

// Faces returns the required primary face reference followed by the optional second one.
func Faces(form *multipart.Form, limits Limits) ([]generation.UploadedImage, error) {
	primary := firstFile(form, FieldFace)
	if primary == nil {
		return nil, &ValidationError{Field: FieldFace, Message: "Face image is required (field: faceImage)"}
	}
	face, err := ReadFile(FieldFace, primary, limits.MaxFileBytes)
	if err != nil {
		return nil, err
	}
	faces := []generation.UploadedImage{face}

	if second := firstFile(form, FieldSecondFace); second != nil {
		face2, err := ReadFile(FieldSecondFace, second, limits.MaxFileBytes)
		if err != nil {
			return nil, err
		}
		faces = append(faces, face2)
	}
	return faces, nil
}

// Target returns the single target image of the one-shot endpoint.
func Target(form *multipart.Form, limits Limits) (generation.UploadedImage, error) {
	fh := firstFile(form, FieldTarget)
	if fh == nil {
		return generation.UploadedImage{}, &ValidationError{Field: FieldTarget, Message: "Target image is required (field: targetImage)"}
	}
	return ReadFile(FieldTarget, fh, limits.MaxFileBytes)
}

// Targets returns the batch target images in upload order.
func Targets(form *multipart.Form, limits Limits) ([]generation.UploadedImage, error) {
	var headers []*multipart.FileHeader
	if form != nil {
		headers = form.File[FieldTargets]
	}
	if len(headers) == 0 {
		return nil, &ValidationError{Field: FieldTargets, Message: "At least one target image is required (field: targetImages)"}
	}
	if limits.MaxTargets > 0 && len(headers) > limits.MaxTargets {
		return nil, &ValidationError{
			Field:   FieldTargets,
			Message: fmt.Sprintf("At most %d target images are allowed, got %d", limits.MaxTargets, len(headers)),
		}
	}

	targets := make([]generation.UploadedImage, 0, len(headers))
	for _, fh := range headers {
		img, err := ReadFile(FieldTargets, fh, limits.MaxFileBytes)
		if err != nil {
			return nil, err
		}
		targets = append(targets, img)
	}
	return targets, nil
}

// Options reads the optional text fields.
func Options(form *multipart.Form) generation.Options {
	return generation.Options{
		Prompt:      formValue(form, FieldPrompt),
		AspectRatio: strings.TrimSpace(formValue(form, FieldAspectRatio)),
		Quality:     strings.TrimSpace(formValue(form, FieldImageQuality)),
	}.WithDefaults()
}

// ReadFile loads one uploaded file into memory, enforcing the size cap and an image content type.
func ReadFile(field string, fh *multipart.FileHeader, maxBytes int64) (generation.UploadedImage, error) {
	if maxBytes > 0 && fh.Size > maxBytes {
		return generation.UploadedImage{}, &TooLargeError{Field: field, Filename: fh.Filename, Limit: maxBytes}
	}

	src, err := fh.Open()
	if err != nil {
		return generation.UploadedImage{}, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer src.Close()

	var reader io.Reader = src
	if maxBytes > 0 {
		reader = io.LimitReader(src, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return generation.UploadedImage{}, fmt.Errorf("read upload %q: %w", fh.Filename, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return generation.UploadedImage{}, &TooLargeError{Field: field, Filename: fh.Filename, Limit: maxBytes}
	}
	if len(data) == 0 {
		return generation.UploadedImage{}, &ValidationError{Field: field, Message: fmt.Sprintf("Uploaded file %q is empty", fh.Filename)}
	}

	mimeType := detectMIMEType(fh.Header.Get("Content-Type"), data)
	if !strings.HasPrefix(mimeType, "image/") {
		return generation.UploadedImage{}, &UnsupportedTypeError{Field: field, Filename: fh.Filename, MIMEType: mimeType}
	}

	return generation.UploadedImage{MIMEType: mimeType, Data: data, OriginalName: fh.Filename}, nil
}

// detectMIMEType trusts the declared part type unless it is missing or generic.
func detectMIMEType(declared string, data []byte) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
		return strings.ToLower(mediaType)
	}
	sniffed, _, _ := mime.ParseMediaType(mimetype.Detect(data).String())
	return sniffed
}

func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if form == nil || len(form.File[field]) == 0 {
		return nil
	}
	return form.File[field][0]
}

func formValue(form *multipart.Form, field string) string {
	if form == nil || len(form.Value[field]) == 0 {
		return ""
	}
	return form.Value[field][0]
}
