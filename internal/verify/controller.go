// Package verify implements the verification loop controller: the
// bounded generate→transcribe→score→retry state machine at the heart of
// the service.
//
// One controller run owns one task for the task's entire lifetime. Every
// iteration produces one immutable SynthesisAttempt appended to the task,
// so the loop's current state is always derivable from the attempt list
// and the last attempt's outcome.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/scriptcast/voiceproof/internal/core"
	"github.com/scriptcast/voiceproof/internal/objectstore"
)

// Transport-retry defaults. This budget covers transient provider
// failures inside a single verification attempt and is distinct from the
// task's attempt budget.
const (
	DefaultCallTimeout      = 60 * time.Second
	DefaultTransportRetries = 3
	DefaultRetryBackoff     = 1 * time.Second
	DefaultMaxBackoff       = 10 * time.Second
)

// ErrCanceled is recorded when a task is canceled between steps.
var ErrCanceled = errors.New("task canceled")

// Config tunes the controller's per-call behavior.
type Config struct {
	// CallTimeout bounds each individual provider call so a stuck
	// external call cannot starve the worker pool.
	CallTimeout time.Duration

	// TransportRetries is how many times a transient provider failure is
	// retried before it consumes a verification attempt.
	TransportRetries int

	// RetryBackoff is the initial delay between transport retries,
	// doubling per retry up to MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}

	if c.TransportRetries <= 0 {
		c.TransportRetries = DefaultTransportRetries
	}

	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}

	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}

	return c
}

// Recorder is the controller's write handle on its task. Update applies
// one mutation under the registry's lock and returns a snapshot of the
// result; readers elsewhere only ever see such snapshots.
type Recorder interface {
	Update(mutate func(task *core.AudioTask)) *core.AudioTask
}

// Controller drives one task through the verification state machine.
// Safe to reuse across tasks; all per-task state lives in the task.
type Controller struct {
	synthesizer core.SynthesisProvider
	transcriber core.TranscriptionProvider
	store       core.ObjectStore
	normalizer  core.Normalizer
	scorer      core.Scorer
	publisher   core.Publisher
	log         *logger.Logger
	cfg         Config
}

// NewController wires a controller from its collaborators.
func NewController(
	synthesizer core.SynthesisProvider,
	transcriber core.TranscriptionProvider,
	store core.ObjectStore,
	normalizer core.Normalizer,
	scorer core.Scorer,
	publisher core.Publisher,
	log *logger.Logger,
	cfg Config,
) *Controller {
	return &Controller{
		synthesizer: synthesizer,
		transcriber: transcriber,
		store:       store,
		normalizer:  normalizer,
		scorer:      scorer,
		publisher:   publisher,
		log:         log,
		cfg:         cfg.withDefaults(),
	}
}

// Run executes the verification loop for the task held by rec. It always
// drives the task to SAVED; the returned error reports why a task failed
// and is nil for accepted tasks and threshold-not-met outcomes alike
// (threshold-not-met is a legitimate result, not a bug).
func (c *Controller) Run(ctx context.Context, rec Recorder) error {
	task := c.normalizeOnce(rec)

	task, runErr := c.attemptLoop(ctx, rec, task)

	c.save(rec, task)

	if runErr != nil {
		c.log.Error("Task %s failed: %v", task.ID, runErr)
	}

	return runErr
}

// normalizeOnce runs the normalizer exactly once per task; the result is
// cached on the task for every subsequent attempt.
func (c *Controller) normalizeOnce(rec Recorder) *core.AudioTask {
	task := rec.Update(func(t *core.AudioTask) {
		t.State = core.StateNormalizing
	})
	c.progress(task, 0, 0, "normalizing script")

	normalized, mappings := c.normalizer.Normalize(task.OriginalText, task.Language)

	task = rec.Update(func(t *core.AudioTask) {
		t.NormalizedText = normalized
		t.Mappings = mappings
		t.State = core.StateSynthesizing
	})
	c.progress(task, 0, 0, fmt.Sprintf("normalized with %d mappings", len(mappings)))

	return task
}

// attemptLoop runs verification attempts until acceptance, a permanent
// failure, cancellation, or budget exhaustion.
func (c *Controller) attemptLoop(
	ctx context.Context,
	rec Recorder,
	task *core.AudioTask,
) (*core.AudioTask, error) {
	for attempt := 1; attempt <= task.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return c.fail(rec, attempt, core.KindCanceled, ErrCanceled), ErrCanceled
		}

		task = c.transition(rec, core.StateSynthesizing, attempt, 0, "synthesizing")

		audioKey, transcribed, attemptErr := c.runAttempt(ctx, rec, task, attempt)
		if attemptErr != nil {
			if core.IsPermanent(attemptErr) || errors.Is(attemptErr, ErrCanceled) {
				return c.fail(rec, attempt, core.KindOf(attemptErr), attemptErr), attemptErr
			}

			// Transient budget exhausted: consume one verification
			// attempt and move on to the retry/fail decision.
			task = c.recordAttempt(rec, core.SynthesisAttempt{
				Number:       attempt,
				VoiceID:      task.VoiceID,
				ErrorKind:    core.KindTransient,
				ErrorMessage: attemptErr.Error(),
			})
		} else {
			task = c.transition(rec, core.StateScoring, attempt, 0, "scoring transcription")

			similarity := c.scorer.Score(task.NormalizedText, transcribed)
			accepted := similarity >= task.AccuracyThreshold

			task = c.recordAttempt(rec, core.SynthesisAttempt{
				Number:          attempt,
				VoiceID:         task.VoiceID,
				AudioKey:        audioKey,
				TranscribedText: transcribed,
				Similarity:      similarity,
				Accepted:        accepted,
			})

			if accepted {
				task = rec.Update(func(t *core.AudioTask) {
					t.State = core.StateAccepted
					t.FinalAudioKey = audioKey
				})
				c.progress(task, attempt, similarity, "attempt accepted")

				return task, nil
			}

			c.progress(task, attempt, similarity, "below accuracy threshold")
		}

		if attempt < task.MaxAttempts {
			task = c.transition(rec, core.StateRetry, attempt, 0, "retrying with identical parameters")
		}
	}

	err := fmt.Errorf(
		"%d attempts completed without reaching threshold %.2f",
		task.MaxAttempts, task.AccuracyThreshold,
	)

	return c.failThreshold(rec, err), err
}

// runAttempt performs the synthesize→store→transcribe half of one
// attempt. Returned errors carry their provider classification.
func (c *Controller) runAttempt(
	ctx context.Context,
	rec Recorder,
	task *core.AudioTask,
	attempt int,
) (audioKey, transcribed string, err error) {
	audio, err := c.synthesizeWithRetry(ctx, task)
	if err != nil {
		return "", "", fmt.Errorf("attempt %d synthesis: %w", attempt, err)
	}

	audioKey = objectstore.AttemptKey(task.ID, attempt)

	err = c.store.Upload(ctx, audioKey, audio)
	if err != nil {
		return "", "", fmt.Errorf("attempt %d artifact upload: %w", attempt, err)
	}

	if ctx.Err() != nil {
		return "", "", ErrCanceled
	}

	c.transition(rec, core.StateTranscribing, attempt, 0, "transcribing synthesized audio")

	transcribed, err = c.transcribeWithRetry(ctx, audio, task.Language)
	if err != nil {
		return "", "", fmt.Errorf("attempt %d transcription: %w", attempt, err)
	}

	return audioKey, transcribed, nil
}

// synthesizeWithRetry calls the synthesis provider with the per-call
// timeout, retrying transient failures within the transport-retry budget.
func (c *Controller) synthesizeWithRetry(
	ctx context.Context,
	task *core.AudioTask,
) ([]byte, error) {
	var lastErr error

	backoff := c.cfg.RetryBackoff

	for try := 0; try <= c.cfg.TransportRetries; try++ {
		if try > 0 {
			if waitErr := sleepCtx(ctx, backoff); waitErr != nil {
				return nil, ErrCanceled
			}

			backoff = doubleCapped(backoff, c.cfg.MaxBackoff)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		audio, err := c.synthesizer.Synthesize(callCtx, task.NormalizedText, task.VoiceID, task.Language)

		cancel()

		if err == nil {
			return audio, nil
		}

		if core.IsPermanent(err) {
			return nil, err
		}

		lastErr = err

		c.log.Warn(
			"Transient synthesis failure for task %s (try %d/%d): %v",
			task.ID, try+1, c.cfg.TransportRetries+1, err,
		)
	}

	return nil, lastErr
}

// transcribeWithRetry mirrors synthesizeWithRetry for the transcription
// provider.
func (c *Controller) transcribeWithRetry(
	ctx context.Context,
	audio []byte,
	language string,
) (string, error) {
	var lastErr error

	backoff := c.cfg.RetryBackoff

	for try := 0; try <= c.cfg.TransportRetries; try++ {
		if try > 0 {
			if waitErr := sleepCtx(ctx, backoff); waitErr != nil {
				return "", ErrCanceled
			}

			backoff = doubleCapped(backoff, c.cfg.MaxBackoff)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		text, err := c.transcriber.Transcribe(callCtx, audio, language)

		cancel()

		if err == nil {
			return text, nil
		}

		if core.IsPermanent(err) {
			return "", err
		}

		lastErr = err
	}

	return "", lastErr
}

// fail records a failed attempt for attemptNumber (when one was in
// flight) and drives the task to FAILED.
func (c *Controller) fail(
	rec Recorder,
	attemptNumber int,
	kind core.ErrorKind,
	cause error,
) *core.AudioTask {
	task := rec.Update(func(t *core.AudioTask) {
		if len(t.Attempts) < attemptNumber {
			t.Attempts = append(t.Attempts, core.SynthesisAttempt{
				Number:       attemptNumber,
				VoiceID:      t.VoiceID,
				ErrorKind:    kind,
				ErrorMessage: cause.Error(),
			})
		}

		t.State = core.StateFailed
		t.ErrorKind = kind
		t.ErrorMessage = cause.Error()
	})

	return task
}

// failThreshold drives the task to FAILED after the full attempt budget
// was spent; the diagnostics point at the best-scoring attempt.
func (c *Controller) failThreshold(rec Recorder, cause error) *core.AudioTask {
	task := rec.Update(func(t *core.AudioTask) {
		t.State = core.StateFailed
		t.ErrorKind = core.KindThresholdNotMet
		t.ErrorMessage = cause.Error()

		if best := t.BestAttempt(); best != nil {
			t.ErrorMessage = fmt.Sprintf(
				"%s (best attempt %d scored %.4f)",
				cause.Error(), best.Number, best.Similarity,
			)
		}
	})

	return task
}

// save performs the ACCEPTED|FAILED → SAVED transition and emits the
// final event. The audio artifact itself is already in the object store;
// saving pins the outcome onto the task record.
func (c *Controller) save(rec Recorder, task *core.AudioTask) {
	accepted := task.State == core.StateAccepted

	task = rec.Update(func(t *core.AudioTask) {
		t.State = core.StateSaved
	})

	view := task.View()

	event := core.ProgressEvent{
		Type:      core.EventCompleted,
		TaskID:    task.ID,
		State:     task.State,
		Attempt:   len(task.Attempts),
		Result:    view.Result,
		Timestamp: time.Now().UTC(),
	}

	if !accepted {
		event.Type = core.EventError
		event.Error = task.ErrorMessage
	} else if view.Result != nil {
		event.Similarity = view.Result.FinalSimilarity
	}

	c.publisher.Publish(event)
}

// transition applies a pure state change and emits a progress event.
func (c *Controller) transition(
	rec Recorder,
	state core.TaskState,
	attempt int,
	similarity float64,
	message string,
) *core.AudioTask {
	task := rec.Update(func(t *core.AudioTask) {
		t.State = state
	})

	c.progress(task, attempt, similarity, message)

	return task
}

// recordAttempt appends one immutable attempt record.
func (c *Controller) recordAttempt(
	rec Recorder,
	attempt core.SynthesisAttempt,
) *core.AudioTask {
	return rec.Update(func(t *core.AudioTask) {
		t.Attempts = append(t.Attempts, attempt)
	})
}

func (c *Controller) progress(task *core.AudioTask, attempt int, similarity float64, message string) {
	c.publisher.Publish(core.ProgressEvent{
		Type:       core.EventProgress,
		TaskID:     task.ID,
		State:      task.State,
		Attempt:    attempt,
		Similarity: similarity,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	})
}

// sleepCtx waits for d unless ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("wait aborted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func doubleCapped(d, maxDelay time.Duration) time.Duration {
	d *= 2
	if d > maxDelay {
		return maxDelay
	}

	return d
}
