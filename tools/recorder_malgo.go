package tools

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// capturePeriod is how much audio each Data callback carries.
const capturePeriod = 20 * time.Millisecond

// captureDeviceConfig asks miniaudio for interleaved S16 in format,
// delivered one capturePeriod at a time.
func captureDeviceConfig(format AudioFormat) malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	// miniaudio frames span all channels.
	cfg.PeriodSizeInFrames = uint32(FrameSamples(capturePeriod, format.SampleRate, 1))
	return cfg
}

// MalgoRecorder captures from the default input device through miniaudio.
type MalgoRecorder struct {
	logger shared.LoggerAdapter
	format AudioFormat

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	stopping bool
	errC     chan error
}

var _ Recorder = (*MalgoRecorder)(nil)

func NewMalgoRecorder(logger shared.LoggerAdapter, format AudioFormat) (*MalgoRecorder, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &MalgoRecorder{
		logger: logger,
		format: format,
		errC:   make(chan error, 1),
	}, nil
}

func (r *MalgoRecorder) Start(onChunk func(chunk []byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device != nil {
		return shared.ErrSessionAlreadyRunning
	}
	if onChunk == nil {
		return errors.New("chunk handler is required")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		r.logger.Trace("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return fmt.Errorf("initializing audio context: %w", err)
	}

	deviceConfig := captureDeviceConfig(r.format)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			onChunk(pInputSamples)
		},
		Stop: func() {
			r.mu.Lock()
			stopping := r.stopping
			r.mu.Unlock()
			if !stopping {
				r.report(errors.New("capture device stopped unexpectedly"))
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("initializing capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("starting capture device: %w", err)
	}
	r.ctx = ctx
	r.device = device
	r.stopping = false
	r.logger.Info(
		"capture device started",
		zap.Int("sampleRate", r.format.SampleRate),
		zap.Int("channels", r.format.Channels),
	)
	return nil
}

func (r *MalgoRecorder) report(err error) {
	select {
	case r.errC <- err:
	default:
	}
}

func (r *MalgoRecorder) Errors() <-chan error {
	return r.errC
}

func (r *MalgoRecorder) Stop() error {
	r.mu.Lock()
	if r.device == nil {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	device, ctx := r.device, r.ctx
	r.device, r.ctx = nil, nil
	r.mu.Unlock()

	// Stop fires the device Stop callback, which takes r.mu.
	err := device.Stop()
	device.Uninit()
	if uerr := ctx.Uninit(); uerr != nil && err == nil {
		err = uerr
	}
	ctx.Free()
	if err != nil {
		return fmt.Errorf("stopping capture device: %w", err)
	}
	return nil
}
