package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/scriptcast/voiceproof/internal/core"
	"github.com/scriptcast/voiceproof/internal/progress"
)

// heartbeatInterval is how often an idle stream emits a pong so
// intermediaries do not reap the connection.
const heartbeatInterval = 30 * time.Second

// handleEvents upgrades to WebSocket and streams progress events for one
// task. The first frame is always a `connected` event carrying the
// current task snapshot, so late subscribers of finished tasks see the
// terminal state immediately.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	snapshot, err := s.registry.Snapshot(taskID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)

		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket accept failed for task %s: %v", taskID, err)

		return
	}
	defer conn.CloseNow()

	sub := s.hub.Subscribe(taskID, snapshot)
	defer sub.Close()

	ctx := r.Context()

	// Drain client frames so control messages are processed; the stream
	// is server-to-client only.
	go func() {
		for {
			_, _, readErr := conn.Read(ctx)
			if readErr != nil {
				return
			}
		}
	}()

	err = s.streamEvents(ctx, conn, taskID, sub)
	if err != nil {
		s.log.Info("Event stream for task %s closed: %v", taskID, err)

		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "task finished")
}

// streamEvents pumps subscription events to the connection until the task
// reaches a terminal event, the client goes away, or the server stops. A
// nil return means the task finished and the stream is complete.
func (s *Server) streamEvents(
	ctx context.Context,
	conn *websocket.Conn,
	taskID string,
	sub *progress.Subscription,
) error {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			err := writeEvent(ctx, conn, progress.PongEvent(taskID))
			if err != nil {
				return err
			}
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}

			err := writeEvent(ctx, conn, event)
			if err != nil {
				return err
			}

			if terminalEvent(event) {
				return nil
			}
		}
	}
}

// terminalEvent reports whether no further events will follow. A
// `connected` snapshot of an already-finished task is terminal too.
func terminalEvent(event core.ProgressEvent) bool {
	switch event.Type {
	case core.EventCompleted, core.EventError:
		return true
	case core.EventConnected:
		return event.State.Terminal()
	default:
		return false
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event core.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return conn.Write(writeCtx, websocket.MessageText, data)
}
