// Package core defines the domain types and interfaces shared by the
// voiceproof verification pipeline.
package core

import "time"

// Verification defaults applied when a submission leaves them unset.
const (
	// DefaultAccuracyThreshold is the minimum similarity required to
	// accept a synthesis attempt.
	DefaultAccuracyThreshold = 0.95
	// DefaultMaxAttempts is the verification attempt budget per task.
	DefaultMaxAttempts = 5
)

// TaskState is the internal state of a task inside the verification loop.
type TaskState string

// Task states. ACCEPTED and FAILED are terminal outcomes of the loop;
// SAVED is the true terminal state, entered once the final artifact
// reference (or the failure record) has been persisted.
const (
	StatePending      TaskState = "PENDING"
	StateNormalizing  TaskState = "NORMALIZING"
	StateSynthesizing TaskState = "SYNTHESIZING"
	StateTranscribing TaskState = "TRANSCRIBING"
	StateScoring      TaskState = "SCORING"
	StateRetry        TaskState = "RETRY"
	StateAccepted     TaskState = "ACCEPTED"
	StateFailed       TaskState = "FAILED"
	StateSaved        TaskState = "SAVED"
)

// Terminal reports whether no further state transitions can occur.
func (s TaskState) Terminal() bool {
	return s == StateSaved
}

// Status is the external, client-facing task status.
type Status string

// External statuses as exposed by the HTTP API.
const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// MappingCategory classifies what kind of pattern a normalization
// replacement was produced for.
type MappingCategory string

// Normalization categories, in descending match priority.
const (
	CategoryDate     MappingCategory = "date"
	CategoryPhone    MappingCategory = "phone"
	CategoryCurrency MappingCategory = "currency"
	CategoryAge      MappingCategory = "age"
	CategoryCount    MappingCategory = "count"
	CategoryOther    MappingCategory = "other"
)

// NormalizationMapping records one replacement made by the normalizer.
// Mappings are immutable and attached to the task result for audit, even
// when the replacement is byte-identical to the original.
type NormalizationMapping struct {
	Original    string          `json:"original"`
	Replacement string          `json:"replacement"`
	Category    MappingCategory `json:"category"`
}

// SynthesisAttempt is one complete synthesize→transcribe→score cycle.
// Attempts are immutable once recorded and appended in order.
type SynthesisAttempt struct {
	Number          int       `json:"number"`
	VoiceID         string    `json:"voice_id"`
	AudioKey        string    `json:"audio_key,omitempty"`
	TranscribedText string    `json:"transcribed_text,omitempty"`
	Similarity      float64   `json:"similarity"`
	Accepted        bool      `json:"accepted"`
	ErrorKind       ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// AudioTask is the aggregate root for one verification job. It is created
// on submission, exclusively mutated by the worker that owns it, and read
// concurrently through deep-copied snapshots.
type AudioTask struct {
	ID                string                 `json:"task_id"`
	OriginalText      string                 `json:"original_text"`
	NormalizedText    string                 `json:"normalized_text,omitempty"`
	Mappings          []NormalizationMapping `json:"mappings,omitempty"`
	VoiceID           string                 `json:"voice_id"`
	Language          string                 `json:"language"`
	AccuracyThreshold float64                `json:"accuracy_threshold"`
	MaxAttempts       int                    `json:"max_attempts"`
	State             TaskState              `json:"state"`
	Attempts          []SynthesisAttempt     `json:"attempts,omitempty"`
	FinalAudioKey     string                 `json:"final_audio_key,omitempty"`
	ErrorKind         ErrorKind              `json:"error_kind,omitempty"`
	ErrorMessage      string                 `json:"error_message,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Clone returns a deep copy of the task. Snapshots handed to readers must
// never alias the slices owned by the worker.
func (t *AudioTask) Clone() *AudioTask {
	clone := *t

	if t.Mappings != nil {
		clone.Mappings = make([]NormalizationMapping, len(t.Mappings))
		copy(clone.Mappings, t.Mappings)
	}

	if t.Attempts != nil {
		clone.Attempts = make([]SynthesisAttempt, len(t.Attempts))
		copy(clone.Attempts, t.Attempts)
	}

	return &clone
}

// BestAttempt returns the highest-scoring recorded attempt, or nil when no
// attempt has been recorded. Used for failure diagnostics.
func (t *AudioTask) BestAttempt() *SynthesisAttempt {
	var best *SynthesisAttempt

	for i := range t.Attempts {
		if best == nil || t.Attempts[i].Similarity > best.Similarity {
			best = &t.Attempts[i]
		}
	}

	return best
}

// Status maps the internal task state onto the external status enum.
// ACCEPTED and FAILED still count as RUNNING: the task is not reported
// terminal until the outcome has been saved.
func (t *AudioTask) Status() Status {
	switch t.State {
	case StatePending:
		return StatusPending
	case StateSaved:
		if t.FinalAudioKey != "" {
			return StatusSuccess
		}

		return StatusFailure
	default:
		return StatusRunning
	}
}

// ResultView is the client-facing result payload for a finished task.
type ResultView struct {
	AudioKey              string            `json:"audio_ref"`
	Attempts              int               `json:"attempts"`
	FinalSimilarity       float64           `json:"final_similarity"`
	TranscribedText       string            `json:"transcribed_text"`
	OriginalText          string            `json:"original_text"`
	NormalizedText        string            `json:"normalized_text"`
	NormalizationMappings map[string]string `json:"normalization_mappings"`
}

// StatusView is the client-facing snapshot returned by status queries.
type StatusView struct {
	TaskID string      `json:"task_id"`
	Status Status      `json:"status"`
	Result *ResultView `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// View builds the client-facing snapshot for the task's current state.
// The result payload is populated once at least one attempt has finished,
// so a FAILED task still exposes its closest candidate for diagnostics.
func (t *AudioTask) View() StatusView {
	view := StatusView{
		TaskID: t.ID,
		Status: t.Status(),
		Result: nil,
		Error:  t.ErrorMessage,
	}

	if len(t.Attempts) == 0 {
		return view
	}

	last := t.Attempts[len(t.Attempts)-1]
	view.Result = &ResultView{
		AudioKey:              t.FinalAudioKey,
		Attempts:              len(t.Attempts),
		FinalSimilarity:       last.Similarity,
		TranscribedText:       last.TranscribedText,
		OriginalText:          t.OriginalText,
		NormalizedText:        t.NormalizedText,
		NormalizationMappings: mappingTable(t.Mappings),
	}

	return view
}

func mappingTable(mappings []NormalizationMapping) map[string]string {
	table := make(map[string]string, len(mappings))
	for _, m := range mappings {
		table[m.Original] = m.Replacement
	}

	return table
}

// EventType discriminates progress event variants.
type EventType string

// Progress event variants. The set is closed: push and poll paths are
// kept consistent by switching over these values only.
const (
	EventConnected EventType = "connected"
	EventProgress  EventType = "progress"
	EventError     EventType = "error"
	EventCompleted EventType = "completed"
	EventPong      EventType = "pong"
)

// ProgressEvent is one message on the progress transport. Events are
// transient; everything durable is mirrored into the AudioTask itself.
type ProgressEvent struct {
	Type       EventType   `json:"type"`
	TaskID     string      `json:"task_id,omitempty"`
	State      TaskState   `json:"state,omitempty"`
	Attempt    int         `json:"attempt,omitempty"`
	Similarity float64     `json:"similarity,omitempty"`
	Message    string      `json:"message,omitempty"`
	Result     *ResultView `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
