package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// jsonrpcVersion is the JSON-RPC protocol version stamped on every request.
const jsonrpcVersion = "2.0"

// Request is a JSON-RPC 2.0 request message. ID is kept in its wire form
// so that string and numeric ids are echoed back exactly as received.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  any             `json:"params,omitempty"`
}

// NewRequest creates a JSON-RPC 2.0 request with the given id, method and
// params. A nil params value is omitted from the wire form.
func NewRequest(id json.RawMessage, method string, params any) *Request {
	return &Request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Success is a JSON-RPC 2.0 response carrying a result.
type Success struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// ErrorResponse is a JSON-RPC 2.0 response carrying an error object.
type ErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *RPCError       `json:"error"`
}

// RPCError is a JSON-RPC 2.0 error object. It is also the error value
// returned to callers when a remote server answers with an error
// envelope, so code, message and data survive intact.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("jsonrpc error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is one decoded inbound line. Exactly one field is non-nil.
type Message struct {
	Request *Request
	Success *Success
	Error   *ErrorResponse
}

// ID returns the raw id of whichever envelope the message holds.
func (m Message) ID() json.RawMessage {
	switch {
	case m.Request != nil:
		return m.Request.ID
	case m.Success != nil:
		return m.Success.ID
	case m.Error != nil:
		return m.Error.ID
	}
	return nil
}

// IDString returns the correlation key for the message id.
func (m Message) IDString() string {
	return IDKey(m.ID())
}

// errNotEnvelope is returned by DecodeMessage for JSON objects that are
// none of request, success or error.
var errNotEnvelope = errors.New("not a JSON-RPC envelope")

// DecodeMessage classifies a single line by structural inspection: an
// object with "method" is a Request, one with "result" is a Success, one
// with "error" is an ErrorResponse. Method names are not validated here.
func DecodeMessage(line []byte) (Message, error) {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  *string         `json:"method"`
		Params  any             `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch {
	case probe.Method != nil:
		return Message{Request: &Request{
			JSONRPC: probe.JSONRPC,
			ID:      probe.ID,
			Method:  *probe.Method,
			Params:  probe.Params,
		}}, nil
	case probe.Result != nil:
		return Message{Success: &Success{
			JSONRPC: probe.JSONRPC,
			ID:      probe.ID,
			Result:  probe.Result,
		}}, nil
	case probe.Error != nil:
		return Message{Error: &ErrorResponse{
			JSONRPC: probe.JSONRPC,
			ID:      probe.ID,
			Error:   probe.Error,
		}}, nil
	}
	return Message{}, errNotEnvelope
}

// StringID encodes s as a JSON string id.
func StringID(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// NumberID encodes n as a JSON number id.
func NumberID(n int64) json.RawMessage {
	return json.RawMessage(strconv.FormatInt(n, 10))
}

// IDKey converts a wire id into the string key used by pending tables.
// String ids are unquoted; numbers keep their literal text; null and
// missing ids map to "".
func IDKey(id json.RawMessage) string {
	id = bytes.TrimSpace(id)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return ""
	}
	if id[0] == '"' {
		var s string
		if err := json.Unmarshal(id, &s); err == nil {
			return s
		}
	}
	return string(id)
}
