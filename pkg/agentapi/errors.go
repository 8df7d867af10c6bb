package agentapi

import "errors"

// Sentinel errors returned synchronously by start_session and the
// handle-based operations (§7 "Propagation policy": only configuration
// errors at start_session and handle-based errors are returned
// synchronously; everything else becomes an AgentEvent).
var (
	ErrSessionNotFound     = errors.New("agentapi: session not found")
	ErrInvalidModel        = errors.New("agentapi: invalid model")
	ErrInvalidWorkingDir   = errors.New("agentapi: invalid working_dir")
	ErrMaxSessionsReached  = errors.New("agentapi: max_sessions reached")
	ErrUnsupportedThinking = errors.New("agentapi: thinking level unsupported for model")
	ErrUnknownProvider     = errors.New("agentapi: unknown provider")
	ErrMessageNotFound     = errors.New("agentapi: message not found")
)
