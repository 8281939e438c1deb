// Package registry_test tests task registration, snapshots, cancellation
// and the worker pool.
package registry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/scriptcast/voiceproof/internal/core"
	"github.com/scriptcast/voiceproof/internal/registry"
	"github.com/scriptcast/voiceproof/internal/verify"
	"github.com/stretchr/testify/require"
)

// stubRunner scripts the verification loop. Each run drives the task
// straight to SAVED unless told to block.
type stubRunner struct {
	mu      sync.Mutex
	started chan string
	release chan struct{}
	accept  bool
	runs    int
}

func newStubRunner(accept bool) *stubRunner {
	return &stubRunner{
		started: make(chan string, 16),
		release: nil,
		accept:  accept,
		runs:    0,
	}
}

func (s *stubRunner) Run(ctx context.Context, rec verify.Recorder) error {
	s.mu.Lock()
	s.runs++
	release := s.release
	s.mu.Unlock()

	task := rec.Update(func(t *core.AudioTask) {
		t.State = core.StateSynthesizing
	})

	s.started <- task.ID

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			rec.Update(func(t *core.AudioTask) {
				t.State = core.StateSaved
				t.ErrorKind = core.KindCanceled
				t.ErrorMessage = ctx.Err().Error()
			})

			return verify.ErrCanceled
		}
	}

	rec.Update(func(t *core.AudioTask) {
		t.State = core.StateSaved
		if s.accept {
			t.FinalAudioKey = t.ID + "/attempt-1.wav"
		}
	})

	return nil
}

func (s *stubRunner) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runs
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func validRequest() registry.SubmitRequest {
	return registry.SubmitRequest{
		Text:     "사과 3개 주문",
		VoiceID:  "yuna",
		Language: "ko",
	}
}

func TestSubmit_ReturnsPendingImmediately(t *testing.T) {
	t.Parallel()

	// No worker pool running: the task must still be queryable right
	// after submission.
	reg := registry.New(newStubRunner(true), testLogger(t), 1, 8)

	taskID, err := reg.Submit(validRequest())
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	view, err := reg.Status(taskID)
	require.NoError(t, err)
	require.Equal(t, taskID, view.TaskID)
	require.Equal(t, core.StatusPending, view.Status)
}

func TestSubmit_AppliesDefaults(t *testing.T) {
	t.Parallel()

	reg := registry.New(newStubRunner(true), testLogger(t), 1, 8)

	taskID, err := reg.Submit(validRequest())
	require.NoError(t, err)

	task, err := reg.Snapshot(taskID)
	require.NoError(t, err)
	require.InDelta(t, core.DefaultAccuracyThreshold, task.AccuracyThreshold, 1e-9)
	require.Equal(t, core.DefaultMaxAttempts, task.MaxAttempts)
}

func TestSubmit_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(req *registry.SubmitRequest)
		wantErr error
	}{
		{
			name:    "empty text",
			mutate:  func(req *registry.SubmitRequest) { req.Text = "" },
			wantErr: registry.ErrTextEmpty,
		},
		{
			name:    "empty voice",
			mutate:  func(req *registry.SubmitRequest) { req.VoiceID = "" },
			wantErr: registry.ErrVoiceEmpty,
		},
		{
			name:    "empty language",
			mutate:  func(req *registry.SubmitRequest) { req.Language = "" },
			wantErr: registry.ErrLanguageEmpty,
		},
		{
			name:    "threshold above one",
			mutate:  func(req *registry.SubmitRequest) { req.AccuracyThreshold = 1.5 },
			wantErr: registry.ErrThresholdRange,
		},
		{
			name:    "negative threshold",
			mutate:  func(req *registry.SubmitRequest) { req.AccuracyThreshold = -0.2 },
			wantErr: registry.ErrThresholdRange,
		},
		{
			name:    "attempts over limit",
			mutate:  func(req *registry.SubmitRequest) { req.MaxAttempts = 50 },
			wantErr: registry.ErrMaxAttemptsRange,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			reg := registry.New(newStubRunner(true), testLogger(t), 1, 8)

			req := validRequest()
			tc.mutate(&req)

			_, err := reg.Submit(req)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestStatus_UnknownTask(t *testing.T) {
	t.Parallel()

	reg := registry.New(newStubRunner(true), testLogger(t), 1, 8)

	_, err := reg.Status("no-such-task")
	require.ErrorIs(t, err, registry.ErrTaskNotFound)
}

func TestSnapshot_IsIsolatedCopy(t *testing.T) {
	t.Parallel()

	reg := registry.New(newStubRunner(true), testLogger(t), 1, 8)

	taskID, err := reg.Submit(validRequest())
	require.NoError(t, err)

	first, err := reg.Snapshot(taskID)
	require.NoError(t, err)

	// Mutating the snapshot must not leak into the registry's record.
	first.State = core.StateFailed
	first.Attempts = append(first.Attempts, core.SynthesisAttempt{Number: 99})

	second, err := reg.Snapshot(taskID)
	require.NoError(t, err)
	require.Equal(t, core.StatePending, second.State)
	require.Empty(t, second.Attempts)
}

func TestRun_ExecutesSubmittedTasks(t *testing.T) {
	t.Parallel()

	runner := newStubRunner(true)
	reg := registry.New(runner, testLogger(t), 2, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- reg.Run(ctx)
	}()

	taskID, err := reg.Submit(validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, statusErr := reg.Status(taskID)

		return statusErr == nil && view.Status == core.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRun_FailedTaskReportsFailure(t *testing.T) {
	t.Parallel()

	runner := newStubRunner(false)
	reg := registry.New(runner, testLogger(t), 1, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = reg.Run(ctx) }()

	taskID, err := reg.Submit(validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, statusErr := reg.Status(taskID)

		return statusErr == nil && view.Status == core.StatusFailure
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCancel_StopsRunningTask(t *testing.T) {
	t.Parallel()

	runner := newStubRunner(true)
	runner.release = make(chan struct{})

	reg := registry.New(runner, testLogger(t), 1, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = reg.Run(ctx) }()

	taskID, err := reg.Submit(validRequest())
	require.NoError(t, err)

	// Wait until the runner owns the task, then cancel it.
	require.Equal(t, taskID, <-runner.started)
	require.NoError(t, reg.Cancel(taskID))

	require.Eventually(t, func() bool {
		view, statusErr := reg.Status(taskID)

		return statusErr == nil && view.Status == core.StatusFailure
	}, 2*time.Second, 5*time.Millisecond)

	require.ErrorIs(t, reg.Cancel(taskID), registry.ErrAlreadyCanceled)
}

func TestCancel_UnknownTask(t *testing.T) {
	t.Parallel()

	reg := registry.New(newStubRunner(true), testLogger(t), 1, 8)

	require.ErrorIs(t, reg.Cancel("no-such-task"), registry.ErrTaskNotFound)
}

func TestEvict_RequiresTerminalState(t *testing.T) {
	t.Parallel()

	reg := registry.New(newStubRunner(true), testLogger(t), 1, 8)

	taskID, err := reg.Submit(validRequest())
	require.NoError(t, err)

	require.ErrorIs(t, reg.Evict(taskID), registry.ErrTaskNotTerminal)
}

func TestEvict_RemovesFinishedTask(t *testing.T) {
	t.Parallel()

	runner := newStubRunner(true)
	reg := registry.New(runner, testLogger(t), 1, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = reg.Run(ctx) }()

	taskID, err := reg.Submit(validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, statusErr := reg.Status(taskID)

		return statusErr == nil && view.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, reg.Evict(taskID))

	_, err = reg.Status(taskID)
	require.ErrorIs(t, err, registry.ErrTaskNotFound)
}

func TestSubmit_QueueFull(t *testing.T) {
	t.Parallel()

	// Queue of one, no workers draining it.
	reg := registry.New(newStubRunner(true), testLogger(t), 1, 1)

	_, err := reg.Submit(validRequest())
	require.NoError(t, err)

	rejectedID, err := reg.Submit(validRequest())
	require.ErrorIs(t, err, registry.ErrQueueFull)
	require.Empty(t, rejectedID)
}

func TestRun_ConcurrentTasksAcrossWorkers(t *testing.T) {
	t.Parallel()

	runner := newStubRunner(true)
	reg := registry.New(runner, testLogger(t), 4, 32)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = reg.Run(ctx) }()

	const submissions = 12

	ids := make([]string, 0, submissions)

	for range submissions {
		taskID, err := reg.Submit(validRequest())
		require.NoError(t, err)

		ids = append(ids, taskID)
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			view, err := reg.Status(id)
			if err != nil || view.Status != core.StatusSuccess {
				return false
			}
		}

		return true
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, submissions, runner.runCount())
}
