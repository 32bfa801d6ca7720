package shared

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	strings.Builder
	closed bool
	err    error
}

func (h *recordingHook) WriteString(s string) (int, error) {
	if h.err != nil {
		return 0, h.err
	}
	return h.Builder.WriteString(s)
}

func (h *recordingHook) Close() error {
	h.closed = true
	return nil
}

func TestPrinterIndentsEveryLine(t *testing.T) {
	a, b := new(recordingHook), new(recordingHook)
	p, err := NewPrinter("│  ", a, b)
	require.NoError(t, err)

	require.NoError(t, p.Writeln("tools:\n- calculate_sum", 1))
	require.NoError(t, p.Write("done", 0))
	require.NoError(t, p.Writef(2, "%s=%d", "a", 4))

	want := "│  tools:\n│  - calculate_sum\ndone│  │  a=4\n"
	assert.Equal(t, want, a.String())
	assert.Equal(t, want, b.String())

	require.NoError(t, p.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestPrinterErrors(t *testing.T) {
	_, err := NewPrinter("  ")
	assert.Error(t, err)

	_, err = NewPrinter("  ", nil)
	assert.Error(t, err)

	broken := &recordingHook{err: errors.New("broken pipe")}
	p, err := NewPrinter("  ", broken)
	require.NoError(t, err)
	assert.Error(t, p.Writeln("hello", 0))
}
