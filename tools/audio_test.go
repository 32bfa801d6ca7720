package tools

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioBufferFIFO(t *testing.T) {
	ab := NewAudioBuffer()
	require.NoError(t, ab.Write([]byte{1, 2, 3}))
	require.NoError(t, ab.Write([]byte{4, 5}))

	p := make([]byte, 4)
	n, err := ab.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, p[:n])
	assert.Equal(t, 1, ab.Len())
}

func TestAudioBufferDrainsThenEOFAfterClose(t *testing.T) {
	ab := NewAudioBuffer()
	require.NoError(t, ab.Write([]byte{1, 2}))
	require.NoError(t, ab.Close())

	assert.ErrorIs(t, ab.Write([]byte{3}), io.ErrClosedPipe)

	data, err := io.ReadAll(ab)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, data)
}

func TestAudioBufferCloseWakesReader(t *testing.T) {
	ab := NewAudioBuffer()
	errC := make(chan error, 1)
	go func() {
		_, err := ab.Read(make([]byte, 1))
		errC <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ab.Close())
	select {
	case err := <-errC:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by Close")
	}
}

func TestAudioFormatValidate(t *testing.T) {
	assert.NoError(t, CaptureFormat.Validate())
	assert.NoError(t, PlaybackFormat.Validate())
	assert.Error(t, AudioFormat{SampleRate: 0, Channels: 1, BitDepth: 16}.Validate())
	assert.Error(t, AudioFormat{SampleRate: 16000, Channels: 0, BitDepth: 16}.Validate())
	assert.Error(t, AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 24}.Validate())
	assert.Equal(t, 2, CaptureFormat.BytesPerFrame())
}
