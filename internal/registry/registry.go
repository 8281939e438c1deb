// Package registry holds one record per submitted verification job and
// schedules the verification loop over a fixed-size worker pool.
//
// The registry is the arena for all task state: every mutation goes
// through the single worker that owns the task, and external readers only
// ever receive deep-copied snapshots, so no lock is held across a
// provider call and no reader can observe a half-applied mutation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/scriptcast/voiceproof/internal/core"
	"github.com/scriptcast/voiceproof/internal/verify"
	"golang.org/x/sync/errgroup"
)

// Scheduling defaults.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1024

	maxAttemptsLimit = 20
)

// Static errors.
var (
	ErrTextEmpty        = errors.New("text cannot be empty")
	ErrVoiceEmpty       = errors.New("voice id cannot be empty")
	ErrLanguageEmpty    = errors.New("language cannot be empty")
	ErrThresholdRange   = errors.New("accuracy threshold must be in (0.0, 1.0]")
	ErrMaxAttemptsRange = errors.New("max attempts must be between 1 and 20")
	ErrTaskNotFound     = errors.New("task not found")
	ErrTaskNotTerminal  = errors.New("task has not reached a terminal state")
	ErrQueueFull        = errors.New("submission queue is full")
	ErrAlreadyCanceled  = errors.New("task already canceled")
)

// SubmitRequest carries one verification job submission. Threshold and
// attempt budget fall back to the core defaults when unset.
type SubmitRequest struct {
	Text              string
	VoiceID           string
	Language          string
	AccuracyThreshold float64
	MaxAttempts       int
}

// Runner executes the verification loop for one task. Implemented by
// verify.Controller; narrowed to an interface so registry tests can
// script outcomes without providers.
type Runner interface {
	Run(ctx context.Context, rec verify.Recorder) error
}

// record is one registry entry. The task pointer is mutated only through
// the record's own lock; workers hold the lock only for the duration of a
// mutation, never across provider calls.
type record struct {
	mu       sync.Mutex
	task     *core.AudioTask
	cancel   context.CancelFunc
	canceled bool
}

// Registry implements submission, status, cancellation and scheduling.
type Registry struct {
	runner  Runner
	log     *logger.Logger
	workers int

	mu    sync.RWMutex
	tasks map[string]*record

	queue chan string
}

// New creates a registry executing tasks with runner on a pool of the
// given size. Zero values select the defaults.
func New(runner Runner, log *logger.Logger, workers, queueSize int) *Registry {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Registry{
		runner:  runner,
		log:     log,
		workers: workers,
		tasks:   make(map[string]*record),
		queue:   make(chan string, queueSize),
	}
}

// Submit validates the request, records the task in state PENDING and
// schedules it. It returns the task id immediately, before any synthesis
// occurs.
func (r *Registry) Submit(req SubmitRequest) (string, error) {
	req, err := validate(req)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	task := &core.AudioTask{
		ID:                uuid.NewString(),
		OriginalText:      req.Text,
		VoiceID:           req.VoiceID,
		Language:          req.Language,
		AccuracyThreshold: req.AccuracyThreshold,
		MaxAttempts:       req.MaxAttempts,
		State:             core.StatePending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	r.mu.Lock()
	r.tasks[task.ID] = &record{task: task}
	r.mu.Unlock()

	select {
	case r.queue <- task.ID:
	default:
		r.mu.Lock()
		delete(r.tasks, task.ID)
		r.mu.Unlock()

		return "", ErrQueueFull
	}

	r.log.Info("Task %s submitted (voice=%s, language=%s)", task.ID, task.VoiceID, task.Language)

	return task.ID, nil
}

// Status returns a snapshot view of the task's current state. It never
// blocks on in-flight work.
func (r *Registry) Status(taskID string) (core.StatusView, error) {
	task, err := r.Snapshot(taskID)
	if err != nil {
		return core.StatusView{}, err
	}

	return task.View(), nil
}

// Snapshot returns a deep copy of the full task record.
func (r *Registry) Snapshot(taskID string) (*core.AudioTask, error) {
	rec, err := r.record(taskID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.task.Clone(), nil
}

// Cancel sets the cooperative cancellation flag. The controller checks it
// between attempts and between provider calls; an in-flight provider call
// is not forcibly aborted beyond its own context cancellation.
func (r *Registry) Cancel(taskID string) error {
	rec, err := r.record(taskID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.canceled {
		return ErrAlreadyCanceled
	}

	rec.canceled = true

	if rec.cancel != nil {
		rec.cancel()
	}

	r.log.Info("Task %s canceled", taskID)

	return nil
}

// Evict removes a terminal task from the registry. Retention policy
// itself lives outside this core; an external sweeper decides when.
func (r *Registry) Evict(taskID string) error {
	rec, err := r.record(taskID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	terminal := rec.task.State.Terminal()
	rec.mu.Unlock()

	if !terminal {
		return ErrTaskNotTerminal
	}

	r.mu.Lock()
	delete(r.tasks, taskID)
	r.mu.Unlock()

	return nil
}

// Run starts the worker pool and blocks until ctx is canceled and all
// in-flight tasks have finished.
func (r *Registry) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	for i := 0; i < r.workers; i++ {
		group.Go(func() error {
			return r.workerLoop(groupCtx)
		})
	}

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker pool: %w", err)
	}

	return nil
}

// workerLoop pulls task ids off the queue. Each task is owned by exactly
// one worker for its entire lifetime.
func (r *Registry) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case taskID := <-r.queue:
			r.runTask(ctx, taskID)
		}
	}
}

func (r *Registry) runTask(ctx context.Context, taskID string) {
	rec, err := r.record(taskID)
	if err != nil {
		// Submitted then evicted before pickup; nothing to do.
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rec.mu.Lock()
	rec.cancel = cancel

	if rec.canceled {
		cancel()
	}
	rec.mu.Unlock()

	runErr := r.runner.Run(taskCtx, &taskRecorder{rec: rec})
	if runErr != nil {
		r.log.Warn("Task %s finished with failure: %v", taskID, runErr)

		return
	}

	r.log.Info("Task %s finished", taskID)
}

func (r *Registry) record(taskID string) (*record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	return rec, nil
}

// taskRecorder is the per-task write handle handed to the controller.
type taskRecorder struct {
	rec *record
}

// Update applies one mutation under the record lock and returns a deep
// snapshot of the result.
func (h *taskRecorder) Update(mutate func(task *core.AudioTask)) *core.AudioTask {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()

	mutate(h.rec.task)
	h.rec.task.UpdatedAt = time.Now().UTC()

	return h.rec.task.Clone()
}

// validate applies defaults and checks submission bounds.
func validate(req SubmitRequest) (SubmitRequest, error) {
	if req.Text == "" {
		return req, ErrTextEmpty
	}

	if req.VoiceID == "" {
		return req, ErrVoiceEmpty
	}

	if req.Language == "" {
		return req, ErrLanguageEmpty
	}

	if req.AccuracyThreshold == 0 {
		req.AccuracyThreshold = core.DefaultAccuracyThreshold
	}

	if req.AccuracyThreshold <= 0.0 || req.AccuracyThreshold > 1.0 {
		return req, fmt.Errorf("%w: got %f", ErrThresholdRange, req.AccuracyThreshold)
	}

	if req.MaxAttempts == 0 {
		req.MaxAttempts = core.DefaultMaxAttempts
	}

	if req.MaxAttempts < 1 || req.MaxAttempts > maxAttemptsLimit {
		return req, fmt.Errorf("%w: got %d", ErrMaxAttemptsRange, req.MaxAttempts)
	}

	return req, nil
}
