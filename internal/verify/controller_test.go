// Package verify_test tests the verification loop controller.
package verify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/scriptcast/voiceproof/internal/core"
	"github.com/scriptcast/voiceproof/internal/verify"
	"github.com/stretchr/testify/require"
)

// testRecorder holds one task the way the registry does: mutations under
// a lock, snapshots out.
type testRecorder struct {
	mu   sync.Mutex
	task *core.AudioTask
}

func (r *testRecorder) Update(mutate func(task *core.AudioTask)) *core.AudioTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	mutate(r.task)
	r.task.UpdatedAt = time.Now().UTC()

	return r.task.Clone()
}

func (r *testRecorder) snapshot() *core.AudioTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.task.Clone()
}

// scriptedSynthesizer returns one scripted outcome per call.
type scriptedSynthesizer struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedSynthesizer) Synthesize(
	_ context.Context,
	_, _, _ string,
) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.calls
	s.calls++

	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}

	return []byte("RIFF-audio"), nil
}

func (s *scriptedSynthesizer) HealthCheck(_ context.Context) error { return nil }

func (s *scriptedSynthesizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// scriptedTranscriber returns one transcription per call, repeating the
// last entry when the script runs out.
type scriptedTranscriber struct {
	mu    sync.Mutex
	texts []string
	errs  []error
	calls int
}

func (s *scriptedTranscriber) Transcribe(
	_ context.Context,
	_ []byte,
	_ string,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.calls
	s.calls++

	if call < len(s.errs) && s.errs[call] != nil {
		return "", s.errs[call]
	}

	if len(s.texts) == 0 {
		return "", nil
	}

	if call >= len(s.texts) {
		return s.texts[len(s.texts)-1], nil
	}

	return s.texts[call], nil
}

// memoryStore keeps uploads in a map.
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data

	return nil
}

func (m *memoryStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}

	return data, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

func (m *memoryStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}

	return keys
}

// passNormalizer returns its input untouched.
type passNormalizer struct{}

func (passNormalizer) Normalize(text, _ string) (string, []core.NormalizationMapping) {
	return text, nil
}

// scriptedScorer returns one similarity per call.
type scriptedScorer struct {
	mu     sync.Mutex
	scores []float64
	calls  int
}

func (s *scriptedScorer) Score(_, _ string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := s.calls
	s.calls++

	if call >= len(s.scores) {
		return s.scores[len(s.scores)-1]
	}

	return s.scores[call]
}

// collectingPublisher records every published event.
type collectingPublisher struct {
	mu     sync.Mutex
	events []core.ProgressEvent
}

func (p *collectingPublisher) Publish(event core.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
}

func (p *collectingPublisher) all() []core.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]core.ProgressEvent, len(p.events))
	copy(out, p.events)

	return out
}

func newTestTask() *core.AudioTask {
	now := time.Now().UTC()

	return &core.AudioTask{
		ID:                "task-under-test",
		OriginalText:      "사과 3개 주문",
		VoiceID:           "yuna",
		Language:          "ko",
		AccuracyThreshold: 0.95,
		MaxAttempts:       5,
		State:             core.StatePending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func fastConfig() verify.Config {
	return verify.Config{
		CallTimeout:      time.Second,
		TransportRetries: 1,
		RetryBackoff:     time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
	}
}

func newController(
	t *testing.T,
	synthesizer *scriptedSynthesizer,
	transcriber *scriptedTranscriber,
	store *memoryStore,
	scorer *scriptedScorer,
	publisher *collectingPublisher,
) *verify.Controller {
	t.Helper()

	return verify.NewController(
		synthesizer,
		transcriber,
		store,
		passNormalizer{},
		scorer,
		publisher,
		testLogger(t),
		fastConfig(),
	)
}

func TestRun_AcceptsOnThirdAttempt(t *testing.T) {
	t.Parallel()

	synthesizer := &scriptedSynthesizer{}
	transcriber := &scriptedTranscriber{texts: []string{"사과 3개 주문"}}
	store := newMemoryStore()
	scorer := &scriptedScorer{scores: []float64{0.91, 0.94, 0.97}}
	publisher := &collectingPublisher{}

	controller := newController(t, synthesizer, transcriber, store, scorer, publisher)
	rec := &testRecorder{task: newTestTask()}

	err := controller.Run(context.Background(), rec)
	require.NoError(t, err)

	task := rec.snapshot()
	require.Equal(t, core.StateSaved, task.State)
	require.Equal(t, core.StatusSuccess, task.Status())
	require.Len(t, task.Attempts, 3)

	require.False(t, task.Attempts[0].Accepted)
	require.False(t, task.Attempts[1].Accepted)
	require.True(t, task.Attempts[2].Accepted)
	require.InDelta(t, 0.97, task.Attempts[2].Similarity, 1e-9)
	require.Equal(t, task.Attempts[2].AudioKey, task.FinalAudioKey)

	// Every attempt's artifact is retained for diagnostics.
	require.Len(t, store.keys(), 3)

	events := publisher.all()
	require.NotEmpty(t, events)

	final := events[len(events)-1]
	require.Equal(t, core.EventCompleted, final.Type)
	require.NotNil(t, final.Result)
	require.Equal(t, 3, final.Result.Attempts)
	require.InDelta(t, 0.97, final.Result.FinalSimilarity, 1e-9)
}

func TestRun_FailsAfterBudgetExhausted(t *testing.T) {
	t.Parallel()

	synthesizer := &scriptedSynthesizer{}
	transcriber := &scriptedTranscriber{texts: []string{"사과 삼개 주문"}}
	store := newMemoryStore()
	scorer := &scriptedScorer{scores: []float64{0.90, 0.91, 0.89, 0.92, 0.90}}
	publisher := &collectingPublisher{}

	controller := newController(t, synthesizer, transcriber, store, scorer, publisher)
	rec := &testRecorder{task: newTestTask()}

	err := controller.Run(context.Background(), rec)
	require.Error(t, err)

	task := rec.snapshot()
	require.Equal(t, core.StateSaved, task.State)
	require.Equal(t, core.StatusFailure, task.Status())
	require.Len(t, task.Attempts, 5)
	require.Equal(t, core.KindThresholdNotMet, task.ErrorKind)

	// Diagnostics name the closest candidate: attempt 4 at 0.92.
	require.Contains(t, task.ErrorMessage, "attempt 4")
	require.Contains(t, task.ErrorMessage, "0.9200")

	final := publisher.all()
	require.Equal(t, core.EventError, final[len(final)-1].Type)
	require.NotEmpty(t, final[len(final)-1].Error)
}

func TestRun_TransientFailureRetriedWithinAttempt(t *testing.T) {
	t.Parallel()

	transientErr := core.NewProviderError(core.KindTransient, errors.New("status 503"))

	// First call fails transient, the retry succeeds; one verification
	// attempt total.
	synthesizer := &scriptedSynthesizer{errs: []error{transientErr, nil}}
	transcriber := &scriptedTranscriber{texts: []string{"사과 3개 주문"}}
	store := newMemoryStore()
	scorer := &scriptedScorer{scores: []float64{0.98}}
	publisher := &collectingPublisher{}

	controller := newController(t, synthesizer, transcriber, store, scorer, publisher)
	rec := &testRecorder{task: newTestTask()}

	err := controller.Run(context.Background(), rec)
	require.NoError(t, err)

	task := rec.snapshot()
	require.Equal(t, core.StatusSuccess, task.Status())
	require.Len(t, task.Attempts, 1)
	require.Equal(t, 2, synthesizer.callCount())
}

func TestRun_TransientBudgetExhaustionConsumesAttempt(t *testing.T) {
	t.Parallel()

	transientErr := core.NewProviderError(core.KindTransient, errors.New("status 503"))

	// Both transport tries of attempt 1 fail; attempt 2 succeeds.
	synthesizer := &scriptedSynthesizer{errs: []error{transientErr, transientErr, nil}}
	transcriber := &scriptedTranscriber{texts: []string{"사과 3개 주문"}}
	store := newMemoryStore()
	scorer := &scriptedScorer{scores: []float64{0.99}}
	publisher := &collectingPublisher{}

	controller := newController(t, synthesizer, transcriber, store, scorer, publisher)
	rec := &testRecorder{task: newTestTask()}

	err := controller.Run(context.Background(), rec)
	require.NoError(t, err)

	task := rec.snapshot()
	require.Equal(t, core.StatusSuccess, task.Status())
	require.Len(t, task.Attempts, 2)

	require.Equal(t, core.KindTransient, task.Attempts[0].ErrorKind)
	require.NotEmpty(t, task.Attempts[0].ErrorMessage)
	require.True(t, task.Attempts[1].Accepted)
}

func TestRun_PermanentFailureShortCircuits(t *testing.T) {
	t.Parallel()

	permanentErr := core.NewProviderError(core.KindPermanent, errors.New("unknown voice id"))

	synthesizer := &scriptedSynthesizer{errs: []error{permanentErr}}
	transcriber := &scriptedTranscriber{}
	store := newMemoryStore()
	scorer := &scriptedScorer{scores: []float64{0}}
	publisher := &collectingPublisher{}

	controller := newController(t, synthesizer, transcriber, store, scorer, publisher)
	rec := &testRecorder{task: newTestTask()}

	err := controller.Run(context.Background(), rec)
	require.Error(t, err)
	require.True(t, core.IsPermanent(err))

	task := rec.snapshot()
	require.Equal(t, core.StatusFailure, task.Status())
	require.Equal(t, core.KindPermanent, task.ErrorKind)

	// No retry after a permanent classification.
	require.Len(t, task.Attempts, 1)
	require.Equal(t, 1, synthesizer.callCount())
}

func TestRun_PermanentTranscriptionFailure(t *testing.T) {
	t.Parallel()

	permanentErr := core.NewProviderError(core.KindPermanent, errors.New("audio rejected"))

	synthesizer := &scriptedSynthesizer{}
	transcriber := &scriptedTranscriber{errs: []error{permanentErr}}
	store := newMemoryStore()
	scorer := &scriptedScorer{scores: []float64{0}}
	publisher := &collectingPublisher{}

	controller := newController(t, synthesizer, transcriber, store, scorer, publisher)
	rec := &testRecorder{task: newTestTask()}

	err := controller.Run(context.Background(), rec)
	require.Error(t, err)

	task := rec.snapshot()
	require.Equal(t, core.StatusFailure, task.Status())
	require.Equal(t, core.KindPermanent, task.ErrorKind)
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	t.Parallel()

	synthesizer := &scriptedSynthesizer{}
	transcriber := &scriptedTranscriber{}
	store := newMemoryStore()
	scorer := &scriptedScorer{scores: []float64{0}}
	publisher := &collectingPublisher{}

	controller := newController(t, synthesizer, transcriber, store, scorer, publisher)
	rec := &testRecorder{task: newTestTask()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := controller.Run(ctx, rec)
	require.ErrorIs(t, err, verify.ErrCanceled)

	task := rec.snapshot()
	require.Equal(t, core.StatusFailure, task.Status())
	require.Equal(t, core.KindCanceled, task.ErrorKind)
	require.Equal(t, 0, synthesizer.callCount())
}

func TestRun_AlwaysReachesTerminalState(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		synthesizer *scriptedSynthesizer
		scores      []float64
	}{
		{
			name:        "accepted",
			synthesizer: &scriptedSynthesizer{},
			scores:      []float64{0.99},
		},
		{
			name:        "threshold never met",
			synthesizer: &scriptedSynthesizer{},
			scores:      []float64{0.1},
		},
		{
			name: "permanent failure",
			synthesizer: &scriptedSynthesizer{
				errs: []error{core.NewProviderError(core.KindPermanent, errors.New("bad voice"))},
			},
			scores: []float64{0},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			transcriber := &scriptedTranscriber{texts: []string{"whatever"}}
			store := newMemoryStore()
			scorer := &scriptedScorer{scores: tc.scores}
			publisher := &collectingPublisher{}

			controller := newController(t, tc.synthesizer, transcriber, store, scorer, publisher)
			rec := &testRecorder{task: newTestTask()}

			_ = controller.Run(context.Background(), rec)

			task := rec.snapshot()
			require.Equal(t, core.StateSaved, task.State)
			require.True(t, task.Status().Terminal())
		})
	}
}

func TestRun_NormalizationHappensOncePerTask(t *testing.T) {
	t.Parallel()

	synthesizer := &scriptedSynthesizer{}
	transcriber := &scriptedTranscriber{texts: []string{"different text entirely"}}
	store := newMemoryStore()
	scorer := &scriptedScorer{scores: []float64{0.1}}
	publisher := &collectingPublisher{}

	counting := &countingNormalizer{}

	controller := verify.NewController(
		synthesizer,
		transcriber,
		store,
		counting,
		scorer,
		publisher,
		testLogger(t),
		fastConfig(),
	)
	rec := &testRecorder{task: newTestTask()}

	_ = controller.Run(context.Background(), rec)

	task := rec.snapshot()
	require.Len(t, task.Attempts, task.MaxAttempts)
	require.Equal(t, 1, counting.callCount())
}

type countingNormalizer struct {
	mu    sync.Mutex
	calls int
}

func (n *countingNormalizer) Normalize(text, _ string) (string, []core.NormalizationMapping) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls++

	return text, []core.NormalizationMapping{
		{Original: text, Replacement: text, Category: core.CategoryOther},
	}
}

func (n *countingNormalizer) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.calls
}
