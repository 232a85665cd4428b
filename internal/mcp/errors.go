package mcp

import (
	"errors"
	"log/slog"
)

// levelTrace is below Debug, used for wire-level payload logging.
const levelTrace = slog.Level(-8) // config.LevelTrace

// Sentinel errors for host and server failures. Callers match them with
// errors.Is; the wrapping error carries the server id, method or tool.
// Remote error envelopes surface as *RPCError instead.
var (
	// ErrSpawn means the server process could not be started.
	ErrSpawn = errors.New("spawn failed")

	// ErrHandshakeTimeout means initialize did not complete within the
	// startup timeout. The server is not registered.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrCallTimeout means no response arrived within the request timeout.
	// Other calls and the server itself are unaffected.
	ErrCallTimeout = errors.New("call timed out")

	// ErrTransportClosed means the server's streams closed before a
	// response arrived.
	ErrTransportClosed = errors.New("transport closed")

	// ErrUnexpectedRequest means the remote sent a request where a
	// response to our call was expected.
	ErrUnexpectedRequest = errors.New("unexpected request from server during call")

	// ErrUnknownServer means no server is registered under the id.
	ErrUnknownServer = errors.New("unknown server")

	// ErrUnknownTool means the server has no tool with that name.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrUnknownMethod means the server does not implement the method.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrInvalidToolName means a qualified name could not be split into
	// server id and tool name.
	ErrInvalidToolName = errors.New("invalid tool name")

	// ErrInvalidArguments means tool arguments failed schema validation.
	ErrInvalidArguments = errors.New("invalid arguments")
)
