package tools

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"go.uber.org/zap"
)

const readerDrainTimeout = 2 * time.Second

// MediaDevicesRecorder captures through pion/mediadevices' microphone
// driver, reading raw PCM chunks from the audio track.
type MediaDevicesRecorder struct {
	logger shared.LoggerAdapter
	format AudioFormat

	mu       sync.Mutex
	track    *mediadevices.AudioTrack
	stopping bool
	done     chan struct{}
	errC     chan error
}

var _ Recorder = (*MediaDevicesRecorder)(nil)

func NewMediaDevicesRecorder(logger shared.LoggerAdapter, format AudioFormat) (*MediaDevicesRecorder, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &MediaDevicesRecorder{
		logger: logger,
		format: format,
		errC:   make(chan error, 1),
	}, nil
}

func (r *MediaDevicesRecorder) Start(onChunk func(chunk []byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.track != nil {
		return shared.ErrSessionAlreadyRunning
	}
	if onChunk == nil {
		return errors.New("chunk handler is required")
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(r.format.SampleRate)
			c.ChannelCount = prop.Int(r.format.Channels)
			c.SampleSize = prop.Int(r.format.BitDepth)
		},
	})
	if err != nil {
		return fmt.Errorf("getting microphone stream: %w", err)
	}
	audioTracks := stream.GetAudioTracks()
	if len(audioTracks) == 0 {
		return errors.New("no audio track found in microphone stream")
	}
	track, ok := audioTracks[0].(*mediadevices.AudioTrack)
	if !ok {
		_ = audioTracks[0].Close()
		return fmt.Errorf("unexpected microphone track type %T", audioTracks[0])
	}
	r.track = track
	r.stopping = false
	r.done = make(chan struct{})
	go r.readLoop(track.NewReader(false), onChunk, r.done)
	r.logger.Info("microphone track opened", zap.String("id", track.ID()))
	return nil
}

// pcmReader is the shape of the track's raw audio reader.
type pcmReader interface {
	Read() (chunk wave.Audio, release func(), err error)
}

func (r *MediaDevicesRecorder) readLoop(reader pcmReader, onChunk func([]byte), done chan struct{}) {
	defer close(done)
	for {
		chunk, release, err := reader.Read()
		if err != nil {
			r.mu.Lock()
			stopping := r.stopping
			r.mu.Unlock()
			if !stopping {
				if errors.Is(err, io.EOF) {
					err = errors.New("microphone stream ended unexpectedly")
				}
				r.report(err)
			}
			return
		}
		pcm, err := pcmFromWave(chunk)
		release()
		if err != nil {
			r.report(err)
			return
		}
		onChunk(pcm)
	}
}

func pcmFromWave(chunk wave.Audio) ([]byte, error) {
	switch v := chunk.(type) {
	case *wave.Int16Interleaved:
		return Int16ToBytes(v.Data), nil
	case *wave.Float32Interleaved:
		return Float32ToBytes(v.Data), nil
	default:
		return nil, fmt.Errorf("unsupported sample format %T", chunk)
	}
}

func (r *MediaDevicesRecorder) report(err error) {
	select {
	case r.errC <- err:
	default:
	}
}

func (r *MediaDevicesRecorder) Errors() <-chan error {
	return r.errC
}

func (r *MediaDevicesRecorder) Stop() error {
	r.mu.Lock()
	if r.track == nil {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	track, done := r.track, r.done
	r.track = nil
	r.mu.Unlock()

	err := track.Close()
	select {
	case <-done:
	case <-time.After(readerDrainTimeout):
		r.logger.Warn("microphone reader did not stop in time")
	}
	if err != nil {
		return fmt.Errorf("closing microphone track: %w", err)
	}
	return nil
}
