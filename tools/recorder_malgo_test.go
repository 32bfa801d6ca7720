package tools

import (
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bt-bridge/realtime-voice/shared"
)

func TestCaptureDeviceConfig(t *testing.T) {
	tests := []struct {
		name   string
		format AudioFormat
		period uint32
	}{
		{name: "capture format", format: CaptureFormat, period: 320},
		{name: "playback rate", format: PlaybackFormat, period: 480},
		{name: "stereo counts frames not samples", format: AudioFormat{SampleRate: 48000, Channels: 2, BitDepth: 16}, period: 960},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := captureDeviceConfig(tt.format)
			assert.Equal(t, malgo.Capture, cfg.DeviceType)
			assert.Equal(t, malgo.FormatS16, cfg.Capture.Format)
			assert.Equal(t, uint32(tt.format.Channels), cfg.Capture.Channels)
			assert.Equal(t, uint32(tt.format.SampleRate), cfg.SampleRate)
			assert.Equal(t, tt.period, cfg.PeriodSizeInFrames)
			assert.Zero(t, cfg.PeriodSizeInMilliseconds)
		})
	}
}

func TestNewMalgoRecorderValidation(t *testing.T) {
	_, err := NewMalgoRecorder(nil, CaptureFormat)
	assert.ErrorIs(t, err, shared.ErrNoLogger)
	_, err = NewMalgoRecorder(shared.NewNopLogger(), AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 8})
	assert.Error(t, err)

	rec, err := NewMalgoRecorder(shared.NewNopLogger(), CaptureFormat)
	require.NoError(t, err)
	assert.NoError(t, rec.Stop(), "stop before start is a no-op")
}
