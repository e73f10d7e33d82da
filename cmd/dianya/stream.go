package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	dianya "github.com/dianya-ai/dianya-api-go"
)

var streamCmd = &cobra.Command{
	Use:   "stream [file]",
	Short: "Transcribe raw PCM audio in real time",
	Long: `Create a session, stream 16 kHz mono s16le PCM from a file (or stdin when
the file is "-" or omitted) and print final results as they arrive.

To transcribe a microphone on Linux:

  arecord -q -f S16_LE -r 16000 -c 1 -t raw | dianya stream`,
	Args: cobra.MaximumNArgs(1),
	Run:  runStream,
}

func init() {
	streamCmd.Flags().Bool("realtime", true, "Pace audio at its playback rate")
	streamCmd.Flags().Int("chunk-size", dianya.DefaultChunkSize, "Bytes of PCM per frame")
	streamCmd.Flags().Bool("partials", false, "Print partial results to stderr")
	streamCmd.Flags().Uint64("close-timeout", 0, "Session close timeout in seconds (0 uses the client default)")
}

func runStream(cmd *cobra.Command, args []string) {
	realtime, _ := cmd.Flags().GetBool("realtime")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	partials, _ := cmd.Flags().GetBool("partials")
	closeTimeout, _ := cmd.Flags().GetUint64("close-timeout")

	var input io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			logger.Fatal("Failed to open audio file", "error", err)
		}
		defer f.Close()
		input = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token := credential()
	client := newClient()
	defer client.Close()

	session, err := client.CreateSession(ctx, token, model())
	if err != nil {
		logger.Fatal("Failed to create session", "error", err)
	}

	stream, err := client.OpenSessionStream(ctx, session)
	if err != nil {
		closeSession(client, session.TaskID, token, closeTimeout)
		logger.Fatal("Failed to open stream", "error", err)
	}
	defer stream.Close()

	g, gctx := errgroup.WithContext(ctx)
	events := stream.Events(gctx, 64)
	var transcript dianya.Transcript

	g.Go(func() error {
		sent, err := dianya.FeedAudio(gctx, stream, input, dianya.FeedOptions{
			ChunkSize: chunkSize,
			Realtime:  realtime,
		})
		logger.Info("Audio sent", "bytes", sent, "duration", dianya.ChunkDuration(int(sent)))

		// Closing the session asks the server to flush remaining results
		// and send the stop event.
		closeSession(client, session.TaskID, token, closeTimeout)
		if err != nil {
			return fmt.Errorf("feeding audio: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		for ev := range events {
			transcript.Apply(ev)
			switch ev.Kind {
			case dianya.EventPartialResult:
				if partials {
					fmt.Fprintf(os.Stderr, "... %s\n", ev.Text)
				}
			case dianya.EventFinalResult:
				if ev.Text != "" {
					fmt.Println(ev.Text)
				}
			case dianya.EventError:
				return fmt.Errorf("stream: %w", ev.Err)
			case dianya.EventStop:
				return nil
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Transcription failed", "error", err)
		stream.Close()
		os.Exit(1)
	}
	logger.Info("Transcription complete", "segments", len(transcript.Finals()))
}

func closeSession(client *dianya.Client, taskID, token string, timeout uint64) {
	result, err := client.CloseSession(context.Background(), taskID, token, timeout)
	if err != nil {
		logger.Warn("Failed to close session", "task", taskID, "error", err)
		return
	}

	fields := []any{"task", taskID, "status", result.Status}
	if result.DurationSeconds != nil {
		fields = append(fields, "duration", *result.DurationSeconds)
	}
	if result.ErrorCode != nil {
		fields = append(fields, "error_code", *result.ErrorCode)
	}
	if result.Message != nil {
		fields = append(fields, "message", *result.Message)
	}
	logger.Info("Session closed", fields...)
}
