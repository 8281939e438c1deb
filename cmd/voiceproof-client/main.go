// main package for the voiceproof command-line client
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/scriptcast/voiceproof/internal/core"
	"github.com/scriptcast/voiceproof/internal/watch"
)

// Flag names.
const (
	flagServer    = "server"
	flagText      = "text"
	flagVoice     = "voice"
	flagLanguage  = "language"
	flagThreshold = "threshold"
	flagAttempts  = "attempts"
	flagOutput    = "output"
	flagTimeout   = "timeout"
	flagHealth    = "health"
)

// Flag descriptions.
const (
	flagServerDesc    = "Base URL of the voiceproof service"
	flagTextDesc      = "Text to synthesize and verify"
	flagVoiceDesc     = "Voice identifier"
	flagLanguageDesc  = "Language code (e.g. ko, en)"
	flagThresholdDesc = "Minimum similarity to accept (0 uses the server default)"
	flagAttemptsDesc  = "Maximum verification attempts (0 uses the server default)"
	flagOutputDesc    = "Output file path (.wav)"
	flagTimeoutDesc   = "Overall deadline for the whole verification"
	flagHealthDesc    = "Check service health and exit"
)

// Defaults.
const (
	defaultServer     = "http://localhost:8080"
	defaultLanguage   = "ko"
	defaultOutputFile = "output.wav"
	defaultTimeout    = 10 * time.Minute
	logFileName       = "voiceproof-client.log"
)

// Static errors.
var (
	errTextRequired  = errors.New("--text must be provided")
	errVoiceRequired = errors.New("--voice must be provided")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server    string
	text      string
	voice     string
	language  string
	threshold float64
	attempts  int
	output    string
	timeout   time.Duration
	health    bool
}

func main() {
	err := run()
	if err != nil {
		// The logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer clientLog.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	if flags.health {
		return handleHealthCheck(ctx, flags.server)
	}

	if flags.text == "" {
		return errTextRequired
	}

	if flags.voice == "" {
		return errVoiceRequired
	}

	return handleVerification(ctx, clientLog, flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags
	flag.StringVar(&flags.server, flagServer, defaultServer, flagServerDesc)
	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flag.StringVar(&flags.language, flagLanguage, defaultLanguage, flagLanguageDesc)
	flag.Float64Var(&flags.threshold, flagThreshold, 0, flagThresholdDesc)
	flag.IntVar(&flags.attempts, flagAttempts, 0, flagAttemptsDesc)
	flag.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	flag.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	flag.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flag.Parse()

	return flags
}

func handleHealthCheck(ctx context.Context, server string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/health", http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service is not healthy: %s", resp.Status)
	}

	fmt.Println("Service is healthy")

	return nil
}

// handleVerification submits the task, follows its progress and downloads
// the accepted audio.
func handleVerification(ctx context.Context, clientLog *logger.Logger, flags appFlags) error {
	taskID, err := submitTask(ctx, flags)
	if err != nil {
		return err
	}

	fmt.Printf("Task submitted: %s\n", taskID)

	watcher := watch.New(
		watch.NewWebSocketDialer(flags.server),
		watch.NewHTTPPoller(flags.server, nil),
		clientLog,
		watch.Config{},
	)
	watcher.OnEvent = printEvent

	view, err := watcher.Watch(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to follow task %s: %w", taskID, err)
	}

	if view.Status != core.StatusSuccess {
		if view.Error != "" {
			return fmt.Errorf("verification failed: %s", view.Error)
		}

		return fmt.Errorf("verification finished with status %s", view.Status)
	}

	err = downloadAudio(ctx, flags.server, taskID, flags.output)
	if err != nil {
		return err
	}

	if view.Result != nil {
		fmt.Printf(
			"Accepted after %d attempt(s) with similarity %.4f\n",
			view.Result.Attempts, view.Result.FinalSimilarity,
		)
	}

	fmt.Printf("Saved: %s\n", flags.output)

	return nil
}

func submitTask(ctx context.Context, flags appFlags) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"text":               flags.text,
		"voice_id":           flags.voice,
		"language":           flags.language,
		"accuracy_threshold": flags.threshold,
		"max_attempts":       flags.attempts,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, flags.server+"/v1/audio/tasks", bytes.NewReader(payload),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create submission request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)

		return "", fmt.Errorf("submission rejected (%s): %s", resp.Status, bytes.TrimSpace(body))
	}

	var ack struct {
		TaskID string `json:"task_id"`
	}

	err = json.NewDecoder(resp.Body).Decode(&ack)
	if err != nil {
		return "", fmt.Errorf("failed to decode submission response: %w", err)
	}

	return ack.TaskID, nil
}

func printEvent(event core.ProgressEvent) {
	switch event.Type {
	case core.EventProgress:
		if event.Similarity > 0 {
			fmt.Printf(
				"[attempt %d] %s (similarity %.4f)\n",
				event.Attempt, event.Message, event.Similarity,
			)

			return
		}

		fmt.Printf("[attempt %d] %s\n", event.Attempt, event.Message)
	case core.EventError:
		fmt.Printf("failed: %s\n", event.Error)
	case core.EventCompleted:
		fmt.Println("completed")
	default:
	}
}

func downloadAudio(ctx context.Context, server, taskID, output string) error {
	url := server + "/v1/audio/tasks/" + taskID + "/download"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download rejected: %s", resp.Status)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read audio body: %w", err)
	}

	err = os.WriteFile(output, audio, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	return nil
}
