package shared

import "errors"

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrNoRegistry            = errors.New("no tool registry provided")
	ErrNoPrinter             = errors.New("no printer provided")
	ErrClientNotInitialized  = errors.New("client not initialized")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrAlreadyConnected      = errors.New("already connected")
	ErrNotConnected          = errors.New("not connected")
)

// Session taxonomy. Wrap with %w and match with errors.Is.
var (
	ErrConnection        = errors.New("connection error")
	ErrRecording         = errors.New("recording error")
	ErrPlayback          = errors.New("playback error")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrArgument          = errors.New("invalid tool arguments")
	ErrMalformedProtocol = errors.New("malformed protocol message")
	ErrSessionClosed     = errors.New("session closed")
	ErrIllegalTransition = errors.New("illegal session state transition")
)
