package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	HeaderOpenAIBeta   = "OpenAI-Beta"
	OpenAIBetaRealtime = "realtime=v1"

	closeWriteTimeout = time.Second
)

type ClientState int

const (
	ClientStateNew ClientState = iota
	ClientStateConnecting
	ClientStateConnected
	ClientStateFailed
	ClientStateClosed
)

func (s ClientState) String() string {
	switch s {
	case ClientStateNew:
		return "new"
	case ClientStateConnecting:
		return "connecting"
	case ClientStateConnected:
		return "connected"
	case ClientStateFailed:
		return "failed"
	case ClientStateClosed:
		return "closed"
	}
	return fmt.Sprintf("ClientState(%d)", int(s))
}

type frame struct {
	data []byte
	err  error
}

// Client is a single websocket connection to the realtime endpoint.
// Send is safe for concurrent use; Receive must have one caller.
type Client struct {
	logger           shared.LoggerAdapter
	baseUrl          *url.URL
	apiKey           string
	model            string
	handshakeTimeout time.Duration

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	state   ClientState
	inbound chan frame

	ctx    context.Context
	cancel context.CancelCauseFunc
}

var _ Conn = (*Client)(nil)

func NewClient(ctx context.Context, logger shared.LoggerAdapter, apikey, baseUrl, model string) (c *Client, err error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apikey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if model == "" {
		return nil, errors.New("model is required")
	}
	if baseUrl == "" {
		baseUrl = shared.DefaultBaseURL
	}
	baseUrl_, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	switch baseUrl_.Scheme {
	case "ws", "wss":
	case "http":
		baseUrl_.Scheme = "ws"
	case "https":
		baseUrl_.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported base URL scheme %q", baseUrl_.Scheme)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	c = &Client{
		logger:           logger,
		baseUrl:          baseUrl_,
		apiKey:           apikey,
		model:            model,
		handshakeTimeout: shared.DefaultHandshakeTimeout,
		inbound:          make(chan frame),
		ctx:              ctx,
		cancel:           cancel,
	}
	return c, nil
}

func (c *Client) SetHandshakeTimeout(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ClientStateNew {
		return shared.ErrAlreadyConnected
	}
	if d <= 0 {
		return errors.New("handshake timeout must be positive")
	}
	c.handshakeTimeout = d
	return nil
}

// URL is the endpoint Connect dials.
func (c *Client) URL() string {
	u := c.baseUrl.JoinPath("realtime")
	q := u.Query()
	q.Set("model", c.model)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) respectCtx() error {
	select {
	case <-c.ctx.Done():
		return context.Cause(c.ctx)
	default:
	}
	return nil
}

func (c *Client) setState(state ClientState) {
	c.logger.Trace(
		"client state changed",
		zap.String("prev", c.state.String()),
		zap.String("new", state.String()),
	)
	c.state = state
}

// Connect performs the websocket handshake and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != ClientStateNew {
		c.mu.Unlock()
		return shared.ErrAlreadyConnected
	}
	if err := c.respectCtx(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("respecting client context: %w", err)
	}
	c.setState(ClientStateConnecting)
	c.mu.Unlock()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.handshakeTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)
	header.Set(HeaderOpenAIBeta, OpenAIBetaRealtime)

	endpoint := c.URL()
	c.logger.Info("connecting to realtime endpoint", zap.String("url", endpoint))
	// Close aborts an in-flight handshake as well.
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	stopDial := context.AfterFunc(c.ctx, cancelDial)
	defer stopDial()
	conn, resp, err := dialer.DialContext(dialCtx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		if c.state == ClientStateConnecting {
			c.setState(ClientStateFailed)
		}
		c.mu.Unlock()
		if resp != nil {
			return fmt.Errorf("%w: dialing %s: %s: %w", shared.ErrConnection, endpoint, resp.Status, err)
		}
		return fmt.Errorf("%w: dialing %s: %w", shared.ErrConnection, endpoint, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.respectCtx(); err != nil {
		_ = conn.Close()
		c.setState(ClientStateClosed)
		return fmt.Errorf("respecting client context: %w", err)
	}
	c.conn = conn
	c.setState(ClientStateConnected)
	go c.readLoop(conn)
	c.logger.Info("connected to realtime endpoint")
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err == nil && msgType != websocket.TextMessage {
			c.logger.Warn("received non-text message", zap.Int("messageType", msgType))
			continue
		}
		select {
		case c.inbound <- frame{data: data, err: err}:
		case <-c.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Send writes one client event as a text frame.
func (c *Client) Send(ctx context.Context, event ClientEvent) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	switch state {
	case ClientStateConnected:
	case ClientStateClosed:
		return shared.ErrSessionClosed
	default:
		return shared.ErrNotConnected
	}
	data, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", event.EventType(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: writing %s: %w", shared.ErrConnection, event.EventType(), err)
	}
	c.logger.Debug("sent event", zap.String("type", string(event.EventType())), zap.Int("bytes", len(data)))
	return nil
}

// Receive blocks until the next inbound text frame.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	if state := c.State(); state != ClientStateConnected {
		if state == ClientStateClosed {
			return nil, shared.ErrSessionClosed
		}
		return nil, shared.ErrNotConnected
	}
	select {
	case f := <-c.inbound:
		if f.err != nil {
			return nil, fmt.Errorf("%w: reading: %w", shared.ErrConnection, f.err)
		}
		return f.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, fmt.Errorf("%w: %w", shared.ErrSessionClosed, context.Cause(c.ctx))
	}
}

// Close sends a normal close frame and releases the connection.
// It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ClientStateClosed {
		return nil
	}
	c.setState(ClientStateClosed)
	c.cancel(errors.New("client closed"))
	if c.conn == nil {
		return nil
	}
	c.writeMu.Lock()
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout),
	)
	c.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("writing close frame failed", zap.Error(err))
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("closing websocket: %w", err)
	}
	return nil
}
