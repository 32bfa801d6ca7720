package tools

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"
)

const drainPollInterval = 10 * time.Millisecond

var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// waitDrained blocks until p has pulled everything it was given, then
// waits tail more so the device plays out its own buffer.
func waitDrained(p interface{ IsPlaying() bool }, tail time.Duration) {
	for p.IsPlaying() {
		time.Sleep(drainPollInterval)
	}
	time.Sleep(tail)
}

// oto allows a single context per process.
func sharedOtoContext(format AudioFormat, bufferMs int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   time.Duration(bufferMs) * time.Millisecond,
		})
		if err != nil {
			otoErr = fmt.Errorf("creating oto context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
	})
	return otoCtx, otoErr
}

// OtoSpeaker plays PCM through the default output device. The player
// pulls from an AudioBuffer, so Close can drain it to EOF.
type OtoSpeaker struct {
	logger shared.LoggerAdapter
	ctx    *oto.Context
	buffer *AudioBuffer
	// tail is the device buffer length still queued once the player
	// stops pulling.
	tail time.Duration

	mu     sync.Mutex
	player *oto.Player
	closed bool
}

var _ Speaker = (*OtoSpeaker)(nil)

func NewOtoSpeaker(logger shared.LoggerAdapter, format AudioFormat, bufferMs int) (*OtoSpeaker, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	ctx, err := sharedOtoContext(format, bufferMs)
	if err != nil {
		return nil, err
	}
	logger.Info("speaker opened",
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("channels", format.Channels),
		zap.Int("bufferMs", bufferMs),
	)
	return &OtoSpeaker{
		logger: logger,
		ctx:    ctx,
		buffer: NewAudioBuffer(),
		tail:   time.Duration(bufferMs) * time.Millisecond,
	}, nil
}

// OtoSpeakerOpener adapts NewOtoSpeaker to a PlaybackSink.
func OtoSpeakerOpener(logger shared.LoggerAdapter, bufferMs int) SpeakerOpener {
	return func() (Speaker, error) {
		return NewOtoSpeaker(logger, PlaybackFormat, bufferMs)
	}
}

func (s *OtoSpeaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("speaker closed")
	}
	if s.player != nil {
		if err := s.player.Err(); err != nil {
			return fmt.Errorf("player failed: %w", err)
		}
	}
	if err := s.buffer.Write(pcm); err != nil {
		return err
	}
	// Start on the first write so the player never begins on silence.
	if s.player == nil {
		s.player = s.ctx.NewPlayer(s.buffer)
		s.player.Play()
	}
	return nil
}

func (s *OtoSpeaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	player := s.player
	s.mu.Unlock()

	_ = s.buffer.Close()
	if player == nil {
		return nil
	}
	waitDrained(player, s.tail)
	err := player.Err()
	if cerr := player.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("closing player: %w", err)
	}
	return nil
}
