// ABOUTME: Frame parsing and construction for the gateway WebSocket protocol.
// ABOUTME: One JSON message per frame; variants are req, res, and event.

package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the protocol generation this client speaks. It is sent
// as both minProtocol and maxProtocol during the connect handshake.
const ProtocolVersion = 3

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is sent by the client to invoke an RPC method.
type RequestFrame struct {
	Type   string          `json:"type"` // always "req"
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is sent by the server in reply to a request. ID matches the
// originating request frame.
type ResponseFrame struct {
	Type    string          `json:"type"` // always "res"
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// EventFrame is pushed from the server without a preceding request. Some
// servers deliver the payload pre-encoded in PayloadJSON instead of Payload;
// DecodedPayload collapses the two.
type EventFrame struct {
	Type        string          `json:"type"` // always "event"
	Event       string          `json:"event"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PayloadJSON string          `json:"payloadJSON,omitempty"`
}

// ErrorShape describes a server-reported request failure.
type ErrorShape struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Frame is the decoded union of the three wire variants. Exactly one of
// Req, Res, Event is non-nil after Decode.
type Frame struct {
	Req   *RequestFrame
	Res   *ResponseFrame
	Event *EventFrame
}

// Decode parses raw bytes into a Frame, dispatching on the "type" field.
func Decode(data []byte) (*Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parsing frame: %w", err)
	}

	switch head.Type {
	case FrameTypeRequest:
		var req RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("parsing req frame: %w", err)
		}
		return &Frame{Req: &req}, nil
	case FrameTypeResponse:
		var res ResponseFrame
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("parsing res frame: %w", err)
		}
		return &Frame{Res: &res}, nil
	case FrameTypeEvent:
		var ev EventFrame
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("parsing event frame: %w", err)
		}
		return &Frame{Event: &ev}, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", head.Type)
	}
}

// NewRequest builds a request frame with marshaled params.
func NewRequest(id, method string, params any) (*RequestFrame, error) {
	frame := &RequestFrame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s params: %w", method, err)
		}
		frame.Params = data
	}
	return frame, nil
}

// DecodedPayload returns the event payload bytes, preferring the inline
// payload and falling back to the payloadJSON string form.
func (e *EventFrame) DecodedPayload() json.RawMessage {
	if len(e.Payload) > 0 {
		return e.Payload
	}
	if e.PayloadJSON != "" {
		return json.RawMessage(e.PayloadJSON)
	}
	return nil
}

// ErrorMessage returns the server error message from a failed response, or
// a generic fallback when the error block is absent.
func (r *ResponseFrame) ErrorMessage() string {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	return "request failed"
}
