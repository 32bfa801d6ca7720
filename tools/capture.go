package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/realtime-voice/shared"
	"go.uber.org/zap"
)

// Recorder is a microphone backend producing raw PCM in CaptureFormat.
type Recorder interface {
	// Start opens the device and calls onChunk for every captured chunk,
	// possibly from another goroutine. onChunk must not retain the slice.
	Start(onChunk func(chunk []byte)) error

	// Errors reports device failures while recording. May be nil.
	Errors() <-chan error

	// Stop halts the device. It is safe to call Stop multiple times.
	Stop() error
}

// CaptureSession records one utterance.
type CaptureSession struct {
	logger   shared.LoggerAdapter
	printer  *shared.Printer
	recorder Recorder
}

func NewCaptureSession(logger shared.LoggerAdapter, printer *shared.Printer, recorder Recorder) (*CaptureSession, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if printer == nil {
		return nil, shared.ErrNoPrinter
	}
	if recorder == nil {
		return nil, errors.New("no recorder provided")
	}
	return &CaptureSession{
		logger:   logger,
		printer:  printer,
		recorder: recorder,
	}, nil
}

// Capture records until stop is closed and returns the audio as base64
// PCM16. A device error before stop fails the capture with ErrRecording
// and no audio.
func (c *CaptureSession) Capture(ctx context.Context, stop <-chan struct{}) (string, error) {
	var (
		mu        sync.Mutex
		buf       bytes.Buffer
		chunks    int
		accepting = true
	)
	onChunk := func(chunk []byte) {
		mu.Lock()
		defer mu.Unlock()
		if !accepting {
			return
		}
		buf.Write(chunk)
		chunks++
	}

	if err := c.recorder.Start(onChunk); err != nil {
		return "", fmt.Errorf("%w: starting recorder: %w", shared.ErrRecording, err)
	}
	c.logger.Info("recording started")
	if err := c.printer.Writeln("🎤 Speak to send a message to the assistant. Press Enter when done.", 0); err != nil {
		c.logger.Error("printing recording prompt", err)
	}

	halt := func() {
		mu.Lock()
		accepting = false
		mu.Unlock()
		if err := c.recorder.Stop(); err != nil {
			c.logger.Error("stopping recorder", err)
		}
	}

	select {
	case <-stop:
	case err, ok := <-c.recorder.Errors():
		halt()
		if !ok || err == nil {
			err = errors.New("recorder stopped unexpectedly")
		}
		c.logger.Error("recording stream failed", err)
		return "", fmt.Errorf("%w: %w", shared.ErrRecording, err)
	case <-ctx.Done():
		halt()
		return "", ctx.Err()
	}
	halt()

	// A failure that raced with the stop signal still counts.
	select {
	case err, ok := <-c.recorder.Errors():
		if ok && err != nil {
			c.logger.Error("recording stream failed", err)
			return "", fmt.Errorf("%w: %w", shared.ErrRecording, err)
		}
	default:
	}

	mu.Lock()
	blob := base64.StdEncoding.EncodeToString(buf.Bytes())
	total, count := buf.Len(), chunks
	mu.Unlock()

	c.logger.Info(
		"recording stopped",
		zap.Int("chunks", count),
		zap.Int("bytes", total),
		zap.Duration("duration", PCMDuration(total, CaptureFormat)),
	)
	if err := c.printer.Writeln("⏹  Recording stopped.", 0); err != nil {
		c.logger.Error("printing recording stopped message", err)
	}
	return blob, nil
}
