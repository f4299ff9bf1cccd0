package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
)

// Upload is a file forwarded to a helper endpoint.
type Upload struct {
	Filename string
	Data     io.Reader
}

// DetectScamImage asks the photo helper whether a screenshot looks like a scam.
func (c *Client) DetectScamImage(ctx context.Context, img Upload) (json.RawMessage, error) {
	return c.upload(ctx, "/aihelper/detect-scam-image", "image", img, "photo.jpg")
}

// MedicationInstructions asks the photo helper to explain a medication label.
func (c *Client) MedicationInstructions(ctx context.Context, img Upload) (json.RawMessage, error) {
	return c.upload(ctx, "/aihelper/medication-instructions", "image", img, "photo.jpg")
}

// SpeechToText transcribes a voice recording.
func (c *Client) SpeechToText(ctx context.Context, audio Upload) (json.RawMessage, error) {
	return c.upload(ctx, "/speech-to-text", "audio", audio, "recording.m4a")
}

func (c *Client) upload(ctx context.Context, path, field string, up Upload, fallbackName string) (json.RawMessage, error) {
	if up.Data == nil {
		return nil, fmt.Errorf("no %s provided", field)
	}
	name := filepath.Base(up.Filename)
	if name == "." || name == "/" || name == "" {
		name = fallbackName
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	n, err := io.Copy(part, up.Data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("empty %s", field)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish form: %w", err)
	}
	return c.raw(ctx, path, mw.FormDataContentType(), &buf)
}
