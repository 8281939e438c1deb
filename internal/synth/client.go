// Package synth provides the HTTP client for the external speech
// synthesis provider.
//
// The provider is a network collaborator specified only at its interface
// boundary: text plus a voice identifier and language in, WAV bytes out.
// Failures are classified so the verification loop can tell a retryable
// hiccup from a request that can never succeed.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scriptcast/voiceproof/internal/core"
)

// API endpoints.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers and content types.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Static errors.
var (
	ErrTextEmpty             = errors.New("text cannot be empty")
	ErrVoiceEmpty            = errors.New("voice id cannot be empty")
	ErrEmptyAudio            = errors.New("received empty audio data")
	ErrUnexpectedContentType = errors.New("unexpected content type")
)

// DefaultTemperature is the sampling temperature sent when none is
// configured.
const DefaultTemperature = 0.7

// Request is the JSON payload for a synthesis request.
type Request struct {
	// Text is the (already normalized) text to synthesize.
	Text string `json:"text"`

	// VoiceID selects the provider voice. Invalid ids are a permanent
	// failure: the provider rejects them outright.
	VoiceID string `json:"voice_id"`

	// Language is the BCP-47-ish language code (e.g. "ko", "en").
	Language string `json:"language"`

	// Temperature is the provider's sampling temperature. Fixed per
	// client so retried attempts run with identical parameters.
	Temperature float64 `json:"temperature"`
}

// errorResponse is the provider's structured error payload.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Client is an HTTP client for the synthesis provider, implementing
// core.SynthesisProvider.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	temperature float64
}

// NewClient creates a synthesis client. baseURL includes protocol and
// port (e.g. "http://localhost:8000"); timeout applies to every request.
// A non-positive temperature selects DefaultTemperature.
func NewClient(baseURL string, temperature float64, timeout time.Duration) *Client {
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	return &Client{
		baseURL:     baseURL,
		temperature: temperature,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize sends a generation request and returns the raw WAV bytes.
// Network failures, timeouts, 429 and 5xx responses come back as
// transient provider errors; any other non-200 response is permanent.
func (c *Client) Synthesize(
	ctx context.Context,
	text, voiceID, language string,
) ([]byte, error) {
	if text == "" {
		return nil, core.NewProviderError(core.KindPermanent, ErrTextEmpty)
	}

	if voiceID == "" {
		return nil, core.NewProviderError(core.KindPermanent, ErrVoiceEmpty)
	}

	requestBody, err := json.Marshal(Request{
		Text:        text,
		VoiceID:     voiceID,
		Language:    language,
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError(core.KindTransient, fmt.Errorf(
			"failed to reach synthesis provider at %s: %w", c.baseURL, err,
		))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	if ct := resp.Header.Get(headerContentType); ct != contentTypeWAV {
		return nil, core.NewProviderError(core.KindPermanent, fmt.Errorf(
			"%w: expected %s, got %s", ErrUnexpectedContentType, contentTypeWAV, ct,
		))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewProviderError(
			core.KindTransient,
			fmt.Errorf("failed to read audio data: %w", err),
		)
	}

	if len(audioData) == 0 {
		return nil, core.NewProviderError(core.KindTransient, ErrEmptyAudio)
	}

	return audioData, nil
}

// HealthCheck verifies the provider is reachable and reports healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody,
	)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for provider at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// classifyStatus maps a non-200 response to a classified provider error,
// preserving the structured error detail when the provider sends one.
func classifyStatus(resp *http.Response) error {
	kind := core.KindPermanent
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		kind = core.KindTransient
	}

	var errResp errorResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&errResp)
	if decodeErr == nil && errResp.Detail != "" {
		return core.NewProviderError(kind, fmt.Errorf(
			"synthesis provider error (%s): %s (code: %s)",
			resp.Status, errResp.Detail, errResp.ErrorCode,
		))
	}

	return core.NewProviderError(kind, fmt.Errorf(
		"synthesis provider returned non-OK status: %s", resp.Status,
	))
}
