package rpc

import (
	"encoding/json"
	"fmt"
)

// Request is one wire request to the Houdini bridge listener.
// Requests and responses are encoded as a single JSON object per line.
type Request struct {
	ID     int64           `json:"id"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the wire response paired to a Request by ID.
type Response struct {
	ID     int64           `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

// WireError is a typed error reported by the remote scripting surface.
// It describes an operation-level failure, not a channel failure; the
// channel itself is still usable after receiving one.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *WireError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return fmt.Sprintf("rpc: remote error: %s", e.Message)
	}
	return fmt.Sprintf("rpc: remote error %s: %s", e.Code, e.Message)
}

// InvokeError wraps a failed Invoke with the operation that issued it.
type InvokeError struct {
	Op  string
	Err error
}

func (e *InvokeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc: invoke %q failed: %v", e.Op, e.Err)
}

func (e *InvokeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func marshalArgs(args any) (json.RawMessage, error) {
	if args == nil {
		return nil, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return data, nil
}
