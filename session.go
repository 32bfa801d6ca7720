package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bt-bridge/realtime-voice/functions"
	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SessionState int

const (
	SessionStateConnecting SessionState = iota
	SessionStateOpen
	SessionStateStreaming
	SessionStateToolRoundTrip
	SessionStateClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateConnecting:
		return "connecting"
	case SessionStateOpen:
		return "open"
	case SessionStateStreaming:
		return "streaming"
	case SessionStateToolRoundTrip:
		return "tool_round_trip"
	case SessionStateClosed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

var sessionTransitions = map[SessionState][]SessionState{
	SessionStateConnecting:    {SessionStateOpen, SessionStateClosed},
	SessionStateOpen:          {SessionStateStreaming, SessionStateClosed},
	SessionStateStreaming:     {SessionStateStreaming, SessionStateToolRoundTrip, SessionStateClosed},
	SessionStateToolRoundTrip: {SessionStateStreaming, SessionStateToolRoundTrip, SessionStateClosed},
}

func (s SessionState) CanTransitionTo(next SessionState) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Conn is the duplex message channel to the realtime endpoint.
type Conn interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, event ClientEvent) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type Capturer interface {
	Capture(ctx context.Context, stop <-chan struct{}) (string, error)
}

type Playback interface {
	OnChunk(chunk string)
	OnDone()
}

type ToolInvoker interface {
	Descriptors() []functions.Descriptor
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// ToolCallHook is told about every tool call before it runs.
type ToolCallHook func(name, arguments string)

type SessionConfig struct {
	Instructions string
	Modalities   []string
	ToolChoice   string
	OnToolCall   ToolCallHook
}

// Session drives one conversational turn: connect, capture, send the
// turn, then consume server events until the reply audio is done.
type Session struct {
	id       string
	logger   shared.LoggerAdapter
	conn     Conn
	capture  Capturer
	playback Playback
	tools    ToolInvoker
	cfg      SessionConfig

	mu        sync.Mutex
	state     SessionState
	running   bool
	toolCalls int
}

func NewSession(
	logger shared.LoggerAdapter,
	conn Conn,
	capture Capturer,
	playback Playback,
	tools ToolInvoker,
	cfg SessionConfig,
) (*Session, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if conn == nil {
		return nil, shared.ErrClientNotInitialized
	}
	if capture == nil {
		return nil, errors.New("no capturer provided")
	}
	if playback == nil {
		return nil, errors.New("no playback provided")
	}
	if tools == nil {
		return nil, shared.ErrNoRegistry
	}
	if cfg.Instructions == "" {
		cfg.Instructions = shared.DefaultInstructions
	}
	if len(cfg.Modalities) == 0 {
		cfg.Modalities = DefaultModalities
	}
	if cfg.ToolChoice == "" {
		cfg.ToolChoice = ToolChoiceAuto
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		logger:   logger.With(zap.String("session_id", id)),
		conn:     conn,
		capture:  capture,
		playback: playback,
		tools:    tools,
		cfg:      cfg,
		state:    SessionStateConnecting,
	}, nil
}

func (s *Session) Id() string {
	return s.id
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(next SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", shared.ErrIllegalTransition, s.state, next)
	}
	if s.state != next {
		s.logger.Debug(
			"session state changed",
			zap.String("prev", s.state.String()),
			zap.String("new", next.String()),
		)
	}
	s.state = next
	return nil
}

// ResponseConfig is the request sent with the captured turn.
func (s *Session) ResponseConfig() *ResponseConfig {
	return &ResponseConfig{
		Modalities:   s.cfg.Modalities,
		Instructions: s.cfg.Instructions,
		Tools:        s.tools.Descriptors(),
		ToolChoice:   s.cfg.ToolChoice,
	}
}

// Run blocks until the reply finished playing, an error aborts the
// session, or ctx is cancelled. The session is Closed on return.
func (s *Session) Run(ctx context.Context, stop <-chan struct{}) error {
	s.mu.Lock()
	if s.running || s.state != SessionStateConnecting {
		s.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	if err := s.conn.Connect(ctx); err != nil {
		if !errors.Is(err, shared.ErrConnection) {
			err = fmt.Errorf("%w: %w", shared.ErrConnection, err)
		}
		s.logger.Error("connecting failed", err)
		_ = s.transition(SessionStateClosed)
		return err
	}
	if err := s.transition(SessionStateOpen); err != nil {
		s.shutdown()
		return err
	}
	if err := s.open(ctx, stop); err != nil {
		s.logger.Error("opening turn failed", err)
		s.shutdown()
		return err
	}

	for {
		data, err := s.conn.Receive(ctx)
		if err != nil {
			if s.State() == SessionStateClosed {
				return nil
			}
			s.logger.Error("receiving failed", err)
			s.shutdown()
			return err
		}
		if err := s.HandleEvent(ctx, data); err != nil {
			s.logger.Error("handling event failed", err)
			s.shutdown()
			return err
		}
		if s.State() == SessionStateClosed {
			s.logger.Info("session finished", zap.Int("toolCalls", s.toolCalls))
			return nil
		}
	}
}

func (s *Session) open(ctx context.Context, stop <-chan struct{}) error {
	audio, err := s.capture.Capture(ctx, stop)
	if err != nil {
		return err
	}
	s.logger.Info("sending audio turn", zap.Int("base64Len", len(audio)))
	if err := s.send(ctx, NewAudioTurnEvent(audio)); err != nil {
		return err
	}
	if err := s.send(ctx, NewResponseCreateEvent(s.ResponseConfig())); err != nil {
		return err
	}
	return s.transition(SessionStateStreaming)
}

func (s *Session) send(ctx context.Context, event ClientEvent) error {
	if s.State() == SessionStateClosed {
		return shared.ErrSessionClosed
	}
	return s.conn.Send(ctx, event)
}

// HandleEvent applies one inbound frame. Events the session does not
// consume are ignored.
func (s *Session) HandleEvent(ctx context.Context, data []byte) error {
	switch state := s.State(); state {
	case SessionStateStreaming, SessionStateToolRoundTrip:
	case SessionStateClosed:
		return fmt.Errorf("%w: %w", shared.ErrIllegalTransition, shared.ErrSessionClosed)
	default:
		return fmt.Errorf("%w: event received while %s", shared.ErrIllegalTransition, state)
	}

	event, err := ParseServerEvent(data)
	if err != nil {
		return err
	}
	switch param := event.Param.(type) {
	case *ServerEventParamResponseAudioDelta:
		s.playback.OnChunk(param.Delta)
		return s.transition(SessionStateStreaming)
	case *ServerEventParamResponseFunctionCallArgumentsDone:
		return s.handleToolCall(ctx, param)
	case *ServerEventParamResponseAudioDone:
		s.playback.OnDone()
		if err := s.transition(SessionStateClosed); err != nil {
			return err
		}
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("closing connection failed", zap.Error(err))
		}
		return nil
	case *ServerEventParamError:
		s.logger.Warn(
			"server reported error",
			zap.String("type", param.Type),
			zap.String("code", param.Code),
			zap.String("message", param.Message),
		)
	default:
		s.logger.Trace("ignoring event", zap.String("type", string(event.Type)))
	}
	return nil
}

func (s *Session) handleToolCall(ctx context.Context, call *ServerEventParamResponseFunctionCallArgumentsDone) error {
	logger := s.logger.With(zap.String("tool", call.Name), zap.String("call_id", call.CallId))
	if s.cfg.OnToolCall != nil {
		s.cfg.OnToolCall(call.Name, call.Arguments)
	}
	var args map[string]any
	if err := sonic.UnmarshalString(call.Arguments, &args); err != nil {
		return fmt.Errorf("%w: arguments of %s: %w", shared.ErrMalformedProtocol, call.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := s.tools.Invoke(ctx, call.Name, args)
	if err != nil {
		return err
	}
	logger.Info("tool call finished", zap.Any("result", result))

	if err := s.send(ctx, NewFunctionCallOutputEvent(call.CallId, result)); err != nil {
		return err
	}
	if err := s.send(ctx, NewResponseCreateEvent(nil)); err != nil {
		return err
	}
	s.mu.Lock()
	s.toolCalls++
	s.mu.Unlock()
	return s.transition(SessionStateToolRoundTrip)
}

func (s *Session) shutdown() {
	s.playback.OnDone()
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("closing connection failed", zap.Error(err))
	}
	s.mu.Lock()
	if s.state != SessionStateClosed {
		s.logger.Debug("session state changed", zap.String("prev", s.state.String()), zap.String("new", "closed"))
		s.state = SessionStateClosed
	}
	s.mu.Unlock()
}
