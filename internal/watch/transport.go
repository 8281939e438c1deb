package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/scriptcast/voiceproof/internal/core"
)

// WebSocketDialer dials the service's event stream endpoint.
type WebSocketDialer struct {
	baseURL string
}

// NewWebSocketDialer creates a dialer against the service base URL
// (e.g. "http://localhost:8080").
func NewWebSocketDialer(baseURL string) *WebSocketDialer {
	return &WebSocketDialer{baseURL: strings.TrimRight(baseURL, "/")}
}

// Dial opens the event stream for taskID.
func (d *WebSocketDialer) Dial(ctx context.Context, taskID string) (Stream, error) {
	wsURL := toWebSocketURL(d.baseURL) + "/v1/audio/tasks/" + taskID + "/events"

	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to dial event stream at %s: %w", wsURL, err)
	}

	return &wsStream{conn: conn}, nil
}

// wsStream adapts a websocket connection to the Stream interface.
type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Recv(ctx context.Context) (core.ProgressEvent, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return core.ProgressEvent{}, ErrStreamClosed
		}

		return core.ProgressEvent{}, fmt.Errorf("failed to read event frame: %w", err)
	}

	var event core.ProgressEvent

	err = json.Unmarshal(data, &event)
	if err != nil {
		return core.ProgressEvent{}, fmt.Errorf("failed to decode event frame: %w", err)
	}

	return event, nil
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "done watching")
}

// HTTPPoller reads task status over the polling endpoint.
type HTTPPoller struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPPoller creates a poller against the service base URL.
func NewHTTPPoller(baseURL string, httpClient *http.Client) *HTTPPoller {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &HTTPPoller{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// ErrTaskNotFound is returned when the service does not know the task.
var ErrTaskNotFound = errors.New("task not found")

// Poll fetches the current status view for taskID.
func (p *HTTPPoller) Poll(ctx context.Context, taskID string) (core.StatusView, error) {
	url := p.baseURL + "/v1/audio/tasks/" + taskID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return core.StatusView{}, fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return core.StatusView{}, fmt.Errorf("failed to poll task %s: %w", taskID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return core.StatusView{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	if resp.StatusCode != http.StatusOK {
		return core.StatusView{}, fmt.Errorf(
			"status poll for task %s returned %s", taskID, resp.Status,
		)
	}

	var view core.StatusView

	err = json.NewDecoder(resp.Body).Decode(&view)
	if err != nil {
		return core.StatusView{}, fmt.Errorf("failed to decode status response: %w", err)
	}

	return view, nil
}

// toWebSocketURL maps an http(s) base URL onto its ws(s) counterpart.
func toWebSocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
