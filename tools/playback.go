package tools

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/realtime-voice/shared"
	"go.uber.org/zap"
)

// Speaker is an output device accepting PCM in PlaybackFormat.
type Speaker interface {
	// Write queues pcm after everything written before it.
	Write(pcm []byte) error
	// Close plays out what is queued and releases the device.
	Close() error
}

// SpeakerOpener opens the output device on the first chunk of a reply.
type SpeakerOpener func() (Speaker, error)

// PlaybackSink renders the assistant's audio deltas in arrival order.
// Failures are logged, never returned: after the first one the rest of
// the reply is dropped.
type PlaybackSink struct {
	logger shared.LoggerAdapter
	open   SpeakerOpener

	mu      sync.Mutex
	speaker Speaker
	failed  bool
	done    bool
	chunks  int
	bytes   int
}

func NewPlaybackSink(logger shared.LoggerAdapter, open SpeakerOpener) (*PlaybackSink, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if open == nil {
		return nil, errors.New("no speaker opener provided")
	}
	return &PlaybackSink{
		logger: logger,
		open:   open,
	}, nil
}

func (p *PlaybackSink) OnChunk(chunk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed || p.done {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		p.fail("decoding audio chunk", err)
		return
	}
	if p.speaker == nil {
		p.speaker, err = p.open()
		if err != nil {
			p.speaker = nil
			p.fail("opening speaker", err)
			return
		}
	}
	if err := p.speaker.Write(pcm); err != nil {
		p.fail("writing to speaker", err)
		return
	}
	p.chunks++
	p.bytes += len(pcm)
}

// OnDone flushes and releases the device. Later calls are no-ops.
func (p *PlaybackSink) OnDone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	p.logger.Info(
		"playback finished",
		zap.Int("chunks", p.chunks),
		zap.Int("bytes", p.bytes),
		zap.Duration("duration", PCMDuration(p.bytes, PlaybackFormat)),
		zap.Bool("failed", p.failed),
	)
	if p.speaker == nil {
		return
	}
	if err := p.speaker.Close(); err != nil {
		p.logger.Error("closing speaker", fmt.Errorf("%w: %w", shared.ErrPlayback, err))
	}
	p.speaker = nil
}

func (p *PlaybackSink) Failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

func (p *PlaybackSink) fail(msg string, err error) {
	p.failed = true
	p.logger.Error(msg, fmt.Errorf("%w: %w", shared.ErrPlayback, err), zap.Int("chunk", p.chunks))
}
