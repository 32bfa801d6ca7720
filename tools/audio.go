package tools

import (
	"fmt"
	"io"
	"sync"
)

// AudioFormat describes interleaved little-endian PCM.
type AudioFormat struct {
	SampleRate int
	Channels   int
	// BitDepth is bits per sample. Only 16 is produced or consumed here.
	BitDepth int
}

// Fixed wire formats of the realtime API; never negotiated.
var (
	CaptureFormat  = AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 16}
	PlaybackFormat = AudioFormat{SampleRate: 24000, Channels: 1, BitDepth: 16}
)

func (f AudioFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", f.Channels)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("unsupported bit depth %d", f.BitDepth)
	}
	return nil
}

// BytesPerFrame is the size of one sample across all channels.
func (f AudioFormat) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// AudioBuffer is a FIFO byte queue between a producer and an io.Reader
// consumer such as an oto player. Read blocks until data arrives or the
// buffer is closed; after Close, Read drains what is left and then
// returns io.EOF.
type AudioBuffer struct {
	buffer []byte
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
}

func NewAudioBuffer() *AudioBuffer {
	ab := &AudioBuffer{}
	ab.cond = sync.NewCond(&ab.mu)
	return ab
}

func (ab *AudioBuffer) Write(data []byte) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.closed {
		return io.ErrClosedPipe
	}
	ab.buffer = append(ab.buffer, data...)
	ab.cond.Signal()
	return nil
}

func (ab *AudioBuffer) Read(p []byte) (n int, err error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	for len(ab.buffer) == 0 && !ab.closed {
		ab.cond.Wait()
	}
	if len(ab.buffer) == 0 {
		return 0, io.EOF
	}
	n = copy(p, ab.buffer)
	ab.buffer = ab.buffer[n:]
	return n, nil
}

func (ab *AudioBuffer) Len() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.buffer)
}

// Close is idempotent.
func (ab *AudioBuffer) Close() error {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.closed = true
	ab.cond.Broadcast()
	return nil
}
