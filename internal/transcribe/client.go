// Package transcribe provides the HTTP client for the external speech
// recognition provider.
//
// The provider exposes a Whisper-style transcription endpoint: multipart
// audio upload in, recognized text out. Like the synthesis side, failures
// are classified into transient and permanent conditions.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/scriptcast/voiceproof/internal/core"
)

// Form field names of the transcription endpoint.
const (
	formFieldFile     = "file"
	formFieldModel    = "model"
	formFieldLanguage = "language"
)

// Defaults.
const (
	defaultModel    = "whisper-1"
	defaultFileName = "attempt.wav"
)

// ErrAudioEmpty indicates an empty audio payload was passed in.
var ErrAudioEmpty = errors.New("audio data cannot be empty")

// response is the provider's transcription payload.
type response struct {
	Text string `json:"text"`
}

// Client is an HTTP client for the transcription provider, implementing
// core.TranscriptionProvider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient creates a transcription client. The apiKey may be empty for
// providers that do not authenticate; model falls back to whisper-1.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if model == "" {
		model = defaultModel
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Transcribe uploads the audio bytes and returns the recognized text.
func (c *Client) Transcribe(
	ctx context.Context,
	audio []byte,
	language string,
) (string, error) {
	if len(audio) == 0 {
		return "", core.NewProviderError(core.KindPermanent, ErrAudioEmpty)
	}

	body, contentType, err := c.buildForm(audio, language)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, body)
	if err != nil {
		return "", fmt.Errorf("failed to create transcription request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", core.NewProviderError(core.KindTransient, fmt.Errorf(
			"failed to reach transcription provider at %s: %w", c.baseURL, err,
		))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp)
	}

	var transcription response

	err = json.NewDecoder(resp.Body).Decode(&transcription)
	if err != nil {
		return "", core.NewProviderError(
			core.KindTransient,
			fmt.Errorf("failed to decode transcription response: %w", err),
		)
	}

	return transcription.Text, nil
}

// buildForm assembles the multipart payload: audio file, model name and
// optional language hint.
func (c *Client) buildForm(audio []byte, language string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, defaultFileName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = part.Write(audio)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	err = writer.WriteField(formFieldModel, c.model)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write model field: %w", err)
	}

	if language != "" {
		err = writer.WriteField(formFieldLanguage, language)
		if err != nil {
			return nil, "", fmt.Errorf("failed to write language field: %w", err)
		}
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func classifyStatus(resp *http.Response) error {
	kind := core.KindPermanent
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		kind = core.KindTransient
	}

	body, _ := io.ReadAll(resp.Body)

	return core.NewProviderError(kind, fmt.Errorf(
		"transcription provider returned status %d: %s",
		resp.StatusCode, string(body),
	))
}
