// Package llm talks to an OpenAI-compatible API for three jobs: intent classification,
// payment-proof extraction from images and voice-note transcription. Every call is a single
// attempt bounded by the client timeout; callers own the fallback.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-chat-checkout/internal/config"
)

var ErrNotConfigured = errors.New("llm api key not configured")

// APIError never carries response bodies, which may echo customer text.
type APIError struct {
	Op     string
	Status int
	Code   string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm %s: %s (http %d)", e.Op, e.Code, e.Status)
	}
	return fmt.Sprintf("llm %s: %s", e.Op, e.Code)
}

const maxResponseBytes = 256 * 1024

type Client struct {
	baseURL         string
	apiKey          string
	model           string
	visionModel     string
	transcribeModel string
	http            *http.Client
}

func New(cfg config.LLMConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		model:           cfg.Model,
		visionModel:     cfg.VisionModel,
		transcribeModel: cfg.TranscribeModel,
		http:            &http.Client{Timeout: timeout},
	}
}

func (c *Client) Configured() bool { return c != nil && c.apiKey != "" }

// ChatJSON sends system and user prompts and returns the JSON object the model answered with.
func (c *Client) ChatJSON(ctx context.Context, system, user string) (json.RawMessage, error) {
	return c.complete(ctx, "chat", ChatRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		MaxTokens:      300,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
}

// VisionJSON sends an image inline as a data URL together with an extraction prompt.
func (c *Client) VisionJSON(ctx context.Context, system, prompt string, image []byte, mimeType string) (json.RawMessage, error) {
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	return c.complete(ctx, "vision", ChatRequest{
		Model: c.visionModel,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: []ContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}},
			}},
		},
		Temperature:    0,
		MaxTokens:      300,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
}

// Transcribe converts a Spanish voice note to text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if filename == "" {
		filename = "audio.ogg"
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("model", c.transcribeModel)
	_ = mw.WriteField("language", "es")
	_ = mw.WriteField("response_format", "json")
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	raw, err := c.post(ctx, "transcribe", "/audio/transcriptions", mw.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	var tr TranscriptionResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", &APIError{Op: "transcribe", Code: "parse_error"}
	}
	return strings.TrimSpace(tr.Text), nil
}

func (c *Client) complete(ctx context.Context, op string, req ChatRequest) (json.RawMessage, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, &APIError{Op: op, Code: "marshal_error"}
	}
	raw, err := c.post(ctx, op, "/chat/completions", "application/json", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	var resp ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &APIError{Op: op, Code: "parse_error"}
	}
	if len(resp.Choices) == 0 {
		return nil, &APIError{Op: op, Code: "empty_response"}
	}
	obj := ExtractJSON(resp.Choices[0].Message.Content)
	if obj == "" || !json.Valid([]byte(obj)) {
		return nil, &APIError{Op: op, Code: "invalid_json"}
	}
	return json.RawMessage(obj), nil
}

func (c *Client) post(ctx context.Context, op, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, &APIError{Op: op, Code: "request_error"}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, &APIError{Op: op, Code: "timeout"}
		}
		return nil, &APIError{Op: op, Code: "network_error"}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &APIError{Op: op, Code: "read_error"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: op, Status: resp.StatusCode, Code: statusBucket(resp.StatusCode)}
	}
	return raw, nil
}

// ExtractJSON returns the outermost {...} of s, tolerating markdown fences around it.
func ExtractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func statusBucket(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "unauthorized"
	case code >= 500:
		return "server_error"
	}
	return "client_error"
}
