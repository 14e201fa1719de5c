// Package rpc exposes the task core as JSON-RPC 2.0 methods. The chat
// gateway turns commands, button presses and free-text replies into
// calls and sends them over a WebSocket or over the bus subject
// taskbot.rpc.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request represents a JSON-RPC 2.0 request. A request without an ID is a
// notification and gets no response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// DomainError carries an errors.Error in Data.
	DomainError = -32000
)

// Handler handles JSON-RPC requests.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	return f(ctx, method, params)
}

// ParseRequest decodes and validates one request.
func ParseRequest(data []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	if req.JSONRPC != "2.0" {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "jsonrpc must be 2.0"}
	}
	if req.Method == "" {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "method is required"}
	}
	return &req, nil
}

// Serve runs h for req and builds the response. It returns nil for
// notifications.
func Serve(ctx context.Context, h Handler, req *Request) *Response {
	result, err := h.Handle(ctx, req.Method, req.Params)
	if req.ID == nil {
		return nil
	}
	if err != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: toError(err)}
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// ServeBytes parses data, runs h and encodes the response. Parse failures
// produce an error response with a null id.
func ServeBytes(ctx context.Context, h Handler, data []byte) []byte {
	var resp *Response
	req, perr := ParseRequest(data)
	if perr != nil {
		resp = &Response{JSONRPC: "2.0", Error: perr}
	} else {
		resp = Serve(ctx, h, req)
	}
	if resp == nil {
		return nil
	}
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(&Response{JSONRPC: "2.0", ID: resp.ID,
			Error: &Error{Code: InternalError, Message: "Internal error", Data: err.Error()}})
	}
	return out
}
