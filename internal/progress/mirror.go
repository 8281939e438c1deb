package progress

import (
	"encoding/json"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/scriptcast/voiceproof/internal/core"
)

// DefaultSubjectPrefix is the NATS subject prefix for mirrored progress
// events; the task id is appended as the final token.
const DefaultSubjectPrefix = "voiceproof.task.progress"

// MirrorEnvelope wraps a progress event in the shared event header so
// out-of-process consumers can correlate it with the task workflow.
type MirrorEnvelope struct {
	Header events.EventHeader `json:"header"`
	Event  core.ProgressEvent `json:"event"`
}

// Mirror publishes progress events to NATS, fire-and-forget. Publish
// failures are logged and dropped: the live task record in the registry
// remains the source of truth.
type Mirror struct {
	conn          *nats.Conn
	subjectPrefix string
	log           *logger.Logger
}

// NewMirror creates a mirror publishing on prefix+"."+taskID. An empty
// prefix selects DefaultSubjectPrefix.
func NewMirror(conn *nats.Conn, subjectPrefix string, log *logger.Logger) *Mirror {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}

	return &Mirror{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		log:           log,
	}
}

// Forward publishes one event. Heartbeats are not mirrored; they only
// matter to the connection they keep alive.
func (m *Mirror) Forward(event core.ProgressEvent) {
	if event.Type == core.EventPong {
		return
	}

	envelope := MirrorEnvelope{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: event.TaskID,
			EventID:    uuid.NewString(),
		},
		Event: event,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		m.log.Error("Failed to marshal mirrored event for task %s: %v", event.TaskID, err)

		return
	}

	err = m.conn.Publish(m.subjectPrefix+"."+event.TaskID, data)
	if err != nil {
		m.log.Warn("Failed to mirror event for task %s: %v", event.TaskID, err)
	}
}
