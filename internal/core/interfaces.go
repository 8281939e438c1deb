package core

import "context"

// SynthesisProvider turns text into an audio artifact for a given voice
// and language. Implementations classify failures via ProviderError so the
// verification loop can distinguish transient from permanent conditions.
type SynthesisProvider interface {
	Synthesize(ctx context.Context, text, voiceID, language string) ([]byte, error)
	HealthCheck(ctx context.Context) error
}

// TranscriptionProvider turns an audio artifact back into text.
type TranscriptionProvider interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// ObjectStore is a key-value blob store for audio artifacts.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Normalizer rewrites numerals, dates, phone numbers and currency into
// their spoken-word form, recording every replacement. Deterministic and
// side-effect free.
type Normalizer interface {
	Normalize(text, language string) (string, []NormalizationMapping)
}

// Scorer measures textual agreement between the requested text and the
// text recovered by transcription. Pure function of two strings, result
// in [0,1], with Score(x, x) == 1 for any non-empty x.
type Scorer interface {
	Score(expected, actual string) float64
}

// Publisher receives every progress event emitted by the verification
// loop. Publishing is best-effort: a slow or absent subscriber must never
// block the loop.
type Publisher interface {
	Publish(event ProgressEvent)
}
