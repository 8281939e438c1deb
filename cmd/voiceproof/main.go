// main package for the voiceproof service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/scriptcast/voiceproof/internal/config"
	"github.com/scriptcast/voiceproof/internal/normalize"
	"github.com/scriptcast/voiceproof/internal/objectstore"
	"github.com/scriptcast/voiceproof/internal/progress"
	"github.com/scriptcast/voiceproof/internal/registry"
	"github.com/scriptcast/voiceproof/internal/score"
	"github.com/scriptcast/voiceproof/internal/server"
	"github.com/scriptcast/voiceproof/internal/synth"
	"github.com/scriptcast/voiceproof/internal/transcribe"
	"github.com/scriptcast/voiceproof/internal/verify"
	"golang.org/x/sync/errgroup"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "voiceproof.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runService(ctx, cfg, log)
}

func runService(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConn.Close()

	jetstreamContext, err := natsConn.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioBucket)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	mirror := progress.NewMirror(natsConn, cfg.NATS.ProgressSubjectPrefix, log)
	hub := progress.NewHub(mirror)

	controller := verify.NewController(
		synth.NewClient(cfg.Synthesis.BaseURL, cfg.Synthesis.Temperature, cfg.SynthesisTimeout()),
		transcribe.NewClient(
			cfg.Transcription.BaseURL,
			cfg.Transcription.APIKey,
			cfg.Transcription.Model,
			cfg.TranscriptionTimeout(),
		),
		store,
		normalize.New(),
		score.New(),
		hub,
		log,
		verify.Config{
			CallTimeout:      time.Duration(cfg.Verification.CallTimeoutSeconds) * time.Second,
			TransportRetries: cfg.Verification.TransportRetries,
			RetryBackoff:     time.Duration(cfg.Verification.RetryBackoffSeconds) * time.Second,
			MaxBackoff:       time.Duration(cfg.Verification.MaxBackoffSeconds) * time.Second,
		},
	)

	reg := registry.New(controller, log, cfg.Verification.Workers, cfg.Verification.QueueSize)
	api := server.New(reg, hub, store, log)

	log.System(
		"Voiceproof initialized. API on %s, audio bucket %s.",
		cfg.HTTP.ListenAddress, cfg.NATS.AudioBucket,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return reg.Run(groupCtx)
	})

	group.Go(func() error {
		return api.ListenAndServe(
			groupCtx,
			cfg.HTTP.ListenAddress,
			time.Duration(cfg.HTTP.ReadTimeoutSeconds)*time.Second,
			time.Duration(cfg.HTTP.WriteTimeoutSeconds)*time.Second,
		)
	})

	err = group.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("service failed: %w", err)
	}

	log.System("Voiceproof shut down.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
