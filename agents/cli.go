package agents

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	pkg "github.com/bt-bridge/realtime-voice"
	"github.com/bt-bridge/realtime-voice/functions"
	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bt-bridge/realtime-voice/tools"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// CLIAgent runs one voice turn in a terminal: Enter stops recording,
// the reply plays on the default output device.
type CLIAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	client  *pkg.Client
	session *pkg.Session

	mu      sync.Mutex
	spawned bool
	done    chan struct{}
	err     error
	cancel  context.CancelFunc
}

// NewRecorder picks the capture backend by name.
func NewRecorder(logger shared.LoggerAdapter, backend string) (tools.Recorder, error) {
	switch backend {
	case shared.CaptureBackendMalgo, "":
		return tools.NewMalgoRecorder(logger, tools.CaptureFormat)
	case shared.CaptureBackendMediaDevices:
		return tools.NewMediaDevicesRecorder(logger, tools.CaptureFormat)
	}
	return nil, fmt.Errorf("unknown capture backend %q", backend)
}

// EnterListener watches a line-oriented reader for Enter presses.
// Presses only count once armed, so anything typed while the session
// is still connecting does not end the recording early.
type EnterListener struct {
	lines chan struct{}
	eof   chan struct{}
}

func ListenForEnter(r io.Reader) *EnterListener {
	l := &EnterListener{
		lines: make(chan struct{}, 1),
		eof:   make(chan struct{}),
	}
	go func() {
		defer close(l.eof)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case l.lines <- struct{}{}:
			default:
			}
		}
	}()
	return l
}

// Arm discards earlier presses and returns a channel closed on the next
// Enter, when the reader is exhausted, or when also is closed.
func (l *EnterListener) Arm(ctx context.Context, also <-chan struct{}) <-chan struct{} {
	select {
	case <-l.lines:
	default:
	}
	stop := make(chan struct{})
	go func() {
		defer close(stop)
		select {
		case <-l.lines:
		case <-l.eof:
		case <-also:
		case <-ctx.Done():
		}
	}()
	return stop
}

// enterCapture arms the listener only once recording begins.
type enterCapture struct {
	capture pkg.Capturer
	enter   *EnterListener
}

func (c enterCapture) Capture(ctx context.Context, stop <-chan struct{}) (string, error) {
	return c.capture.Capture(ctx, c.enter.Arm(ctx, stop))
}

// ToolCallEcho prints each tool invocation the way the operator sees it.
func ToolCallEcho(logger shared.LoggerAdapter, printer *shared.Printer) pkg.ToolCallHook {
	return func(name, arguments string) {
		if err := printer.Writef(0, "🔧 Using function %s with arguments %s", name, arguments); err != nil {
			logger.Error("printing tool call", err)
		}
	}
}

func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg shared.Config,
	printer *shared.Printer,
	stdin io.Reader,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if printer == nil {
		return shared.ErrNoPrinter
	}
	if cfg.APIKey == "" {
		return shared.ErrNoAPIKey
	}
	if stdin == nil {
		return errors.New("no input reader provided")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.spawned {
		return shared.ErrSessionAlreadyRunning
	}
	a.logger = logger
	a.printer = printer
	a.logger.Info("spawning CLI agent", zap.Any("config", cfg.Redacted()))
	if err := a.printer.Writeln("🤖 Spawning CLI agent...\n", 0); err != nil {
		a.logger.Error("printing spawning message", err)
	}

	// Creating client
	var err error
	a.client, err = pkg.NewClient(ctx, a.logger, cfg.APIKey, cfg.BaseURL, cfg.Model)
	if err != nil {
		a.logger.Error("creating client", err)
		return err
	}
	if err := a.client.SetHandshakeTimeout(cfg.HandshakeTimeout); err != nil {
		a.logger.Error("setting handshake timeout", err)
		return err
	}
	a.logger.Info("client created successfully", zap.String("url", a.client.URL()))

	// Tools, microphone and speaker
	registry, err := functions.NewDefaultRegistry(a.logger)
	if err != nil {
		a.logger.Error("creating tool registry", err)
		return err
	}
	recorder, err := NewRecorder(a.logger, cfg.CaptureBackend)
	if err != nil {
		a.logger.Error("creating recorder", err)
		return err
	}
	capture, err := tools.NewCaptureSession(a.logger, a.printer, recorder)
	if err != nil {
		a.logger.Error("creating capture session", err)
		return err
	}
	sink, err := tools.NewPlaybackSink(a.logger, tools.OtoSpeakerOpener(a.logger, cfg.PlaybackBufferMs))
	if err != nil {
		a.logger.Error("creating playback sink", err)
		return err
	}

	enter := enterCapture{capture: capture, enter: ListenForEnter(stdin)}
	a.session, err = pkg.NewSession(a.logger, a.client, enter, sink, registry, pkg.SessionConfig{
		Instructions: cfg.Instructions,
		OnToolCall:   ToolCallEcho(a.logger, a.printer),
	})
	if err != nil {
		a.logger.Error("creating session", err)
		return err
	}
	if err := PrintResponseConfig(a.printer, a.session.ResponseConfig()); err != nil {
		a.logger.Error("printing response config", err)
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	a.spawned = true
	go func() {
		defer close(a.done)
		err := a.session.Run(ctx, nil)
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
		if err != nil {
			if perr := a.printer.Writef(0, "❌ %v", err); perr != nil {
				a.logger.Error("printing session error", perr)
			}
			return
		}
		if perr := a.printer.Writeln("👋 Session finished.", 0); perr != nil {
			a.logger.Error("printing session end", perr)
		}
	}()
	return nil
}

// PrintResponseConfig dumps the request sent with the audio turn.
func PrintResponseConfig(printer *shared.Printer, cfg *pkg.ResponseConfig) error {
	yamlBytes, err := yaml.MarshalWithOptions(cfg, yaml.UseJSONMarshaler())
	if err != nil {
		return fmt.Errorf("marshaling response config to yaml: %w", err)
	}
	if err := printer.Writeln("📋 Response Request\n", 0); err != nil {
		return err
	}
	return printer.Writeln(string(yamlBytes), 1)
}

// Done is closed when the session has ended.
func (a *CLIAgent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

func (a *CLIAgent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Close cancels the running turn and releases the connection.
func (a *CLIAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.spawned {
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("closing client: %w", err)
	}
	return nil
}
