package dianya

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Audio accepted by the stream: raw mono 16 kHz signed 16-bit
// little-endian PCM, no container.
const (
	SampleRate       = 16000
	NumChannels      = 1
	BytesPerSample   = 2
	BytesPerSecond   = SampleRate * NumChannels * BytesPerSample
	DefaultChunkSize = BytesPerSecond / 10
)

// AudioSink receives captured audio buffers. *Stream implements it.
type AudioSink interface {
	WriteBinary(data []byte) error
}

type FeedOptions struct {
	ChunkSize    int
	PaceInterval time.Duration
	// Realtime paces each chunk by the duration of audio it carries.
	// It takes precedence over PaceInterval.
	Realtime bool
}

// ValidatePCM checks that buf holds whole 16-bit samples.
func ValidatePCM(buf []byte) error {
	if len(buf)%BytesPerSample != 0 {
		return NewError(ErrorKindInvalidInput, fmt.Sprintf("pcm buffer of %d bytes is not sample aligned", len(buf)))
	}
	return nil
}

// ChunkDuration returns the audio duration of n bytes of PCM.
func ChunkDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / BytesPerSecond
}

// FeedAudio reads PCM from r and writes it to sink chunk by chunk until EOF.
// It returns the number of bytes written.
func FeedAudio(ctx context.Context, sink AudioSink, r io.Reader, opts FeedOptions) (int64, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkSize%BytesPerSample != 0 {
		return 0, NewError(ErrorKindInvalidInput, "chunk size must be a multiple of the sample size")
	}

	var sent int64
	buf := make([]byte, opts.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if vErr := ValidatePCM(chunk); vErr != nil {
				return sent, vErr
			}
			if wErr := sink.WriteBinary(chunk); wErr != nil {
				return sent, wErr
			}
			sent += int64(n)

			pace := opts.PaceInterval
			if opts.Realtime {
				pace = ChunkDuration(n)
			}
			if pace > 0 {
				if sErr := sleepContext(ctx, pace); sErr != nil {
					return sent, sErr
				}
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
