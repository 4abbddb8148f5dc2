package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrQuotaExceeded      = errors.New("assist: daily usage limit reached")
	ErrEmptyTranscription = errors.New("assist: transcription came back empty")
)

// Client talks to the AI backend. Transcription attaches audio and goes
// multipart; the text-only generation calls are JSON.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type textResponse struct {
	Text string `json:"text"`
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, userID string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", "clip.ogg")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := writer.WriteField("user_id", userID); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ai/transcribe", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out textResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", ErrEmptyTranscription
	}
	return out.Text, nil
}

func (c *Client) Answer(ctx context.Context, prompt, transcription, userID string) (string, error) {
	payload := map[string]string{
		"prompt":  prompt,
		"user_id": userID,
	}
	if transcription != "" {
		payload["transcription"] = transcription
	}
	return c.generate(ctx, "/ai/answer", payload)
}

func (c *Client) Suggest(ctx context.Context, transcript, userID string) (string, error) {
	return c.generate(ctx, "/ai/suggest", map[string]string{
		"transcript": transcript,
		"user_id":    userID,
	})
}

// UsageRemaining reports whether the user still has daily quota left.
func (c *Client) UsageRemaining(ctx context.Context, userID string) (bool, error) {
	endpoint := c.baseURL + "/ai/usage?user_id=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}

	var out struct {
		Remaining bool `json:"remaining"`
	}
	if err := c.do(req, &out); err != nil {
		return false, err
	}
	return out.Remaining, nil
}

func (c *Client) generate(ctx context.Context, path string, payload map[string]string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out textResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("assist: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrQuotaExceeded
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("assist: %s returned %d: %s", req.URL.Path, resp.StatusCode, string(snippet))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
