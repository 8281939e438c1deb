// Package watch implements the client side of the progress transport: a
// WebSocket event stream with bounded reconnection, degrading to status
// polling when the stream cannot be re-established.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/scriptcast/voiceproof/internal/core"
)

// Reconnection and polling defaults.
const (
	DefaultBackoff      = 1 * time.Second
	DefaultMaxBackoff   = 30 * time.Second
	DefaultMaxRetries   = 5
	DefaultPollInterval = 2 * time.Second
)

// ErrStreamClosed is returned by Stream.Recv when the server closed the
// stream normally.
var ErrStreamClosed = errors.New("event stream closed")

// Stream is one live event connection for a single task.
type Stream interface {
	Recv(ctx context.Context) (core.ProgressEvent, error)
	Close() error
}

// Dialer establishes event streams.
type Dialer interface {
	Dial(ctx context.Context, taskID string) (Stream, error)
}

// Poller reads task status over the request/response path.
type Poller interface {
	Poll(ctx context.Context, taskID string) (core.StatusView, error)
}

// Config tunes the watcher's reconnection and fallback behavior.
type Config struct {
	// Backoff is the initial delay before a reconnection attempt,
	// doubling per attempt up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// MaxRetries is the number of reconnection attempts before the
	// watcher gives up on the stream and falls back to polling.
	MaxRetries int

	// PollInterval is the status poll period in fallback mode.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}

	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}

	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}

	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	return c
}

// Watcher follows one task to completion. Events received on the stream
// are handed to OnEvent as they arrive; the final status is returned from
// Watch regardless of which transport delivered it.
type Watcher struct {
	dialer Dialer
	poller Poller
	log    *logger.Logger
	cfg    Config

	// OnEvent, when set, observes every event the stream delivers.
	OnEvent func(core.ProgressEvent)
}

// New creates a watcher.
func New(dialer Dialer, poller Poller, log *logger.Logger, cfg Config) *Watcher {
	return &Watcher{
		dialer:  dialer,
		poller:  poller,
		log:     log,
		cfg:     cfg.withDefaults(),
		OnEvent: nil,
	}
}

// Watch follows taskID until it reaches a terminal status. The stream is
// preferred; after MaxRetries failed reconnections the watcher degrades
// to polling and stays there.
func (w *Watcher) Watch(ctx context.Context, taskID string) (core.StatusView, error) {
	done, err := w.followStream(ctx, taskID)
	if err != nil {
		return core.StatusView{}, err
	}

	// The stream path ends either because the task finished (confirm and
	// return the final view) or because the connection could not be kept;
	// both resolve through the poller.
	if done {
		return w.poller.Poll(ctx, taskID)
	}

	return w.pollLoop(ctx, taskID)
}

// followStream consumes events until a terminal event arrives (returns
// true) or the reconnection budget is spent (returns false).
func (w *Watcher) followStream(ctx context.Context, taskID string) (bool, error) {
	backoff := w.cfg.Backoff

	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			w.log.Warn(
				"Event stream for task %s lost; reconnecting (%d/%d) in %v",
				taskID, attempt, w.cfg.MaxRetries, backoff,
			)

			if err := sleepCtx(ctx, backoff); err != nil {
				return false, err
			}

			backoff = doubleCapped(backoff, w.cfg.MaxBackoff)
		}

		stream, err := w.dialer.Dial(ctx, taskID)
		if err != nil {
			continue
		}

		terminal, err := w.consume(ctx, stream)
		if terminal {
			return true, nil
		}

		if err != nil && ctx.Err() != nil {
			return false, fmt.Errorf("watch aborted: %w", ctx.Err())
		}
	}

	w.log.Warn("Giving up on event stream for task %s; falling back to polling", taskID)

	return false, nil
}

// consume drains one stream connection. It reports whether a terminal
// event was seen before the connection ended.
func (w *Watcher) consume(ctx context.Context, stream Stream) (bool, error) {
	defer stream.Close()

	for {
		event, err := stream.Recv(ctx)
		if err != nil {
			return false, err
		}

		if event.Type == core.EventPong {
			continue
		}

		if w.OnEvent != nil {
			w.OnEvent(event)
		}

		switch event.Type {
		case core.EventCompleted, core.EventError:
			return true, nil
		case core.EventConnected:
			if event.State.Terminal() {
				return true, nil
			}
		default:
		}
	}
}

// pollLoop queries status until it is terminal.
func (w *Watcher) pollLoop(ctx context.Context, taskID string) (core.StatusView, error) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		view, err := w.poller.Poll(ctx, taskID)
		if err != nil {
			return core.StatusView{}, err
		}

		if view.Status.Terminal() {
			return view, nil
		}

		select {
		case <-ctx.Done():
			return core.StatusView{}, fmt.Errorf("watch aborted: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

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
