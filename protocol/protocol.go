// Package protocol defines the JSON messages exchanged between slnatd and
// its clients. Each connection carries exactly one request and one response.
package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

const (
	DefaultPort = 7001

	// MaxMessageSize bounds a single request or response.
	MaxMessageSize = 1024
)

// Commands.
const (
	CommandResolveIP   = "resolve_ip"
	CommandGetGlobalIP = "get_global_ip"
	CommandGet2kIP     = "get2kip"
	CommandPing        = "ping"
)

// Status values.
const (
	StatusSuccess  = "success"
	StatusNotFound = "not_found"
	StatusPong     = "pong"
)

// Error messages.
const (
	ErrMsgMissingIP     = "Missing IP parameter"
	ErrMsgInvalidIP     = "Invalid IPv6 address format"
	ErrMsgUnknownPrefix = "Unknown command: "
)

type Request struct {
	Command string `json:"command"`
	IP      string `json:"ip,omitempty"`
}

// Response is the union of all reply shapes. Unset fields are omitted.
type Response struct {
	IP                string `json:"ip,omitempty"`
	InternalIP        string `json:"internal_ip,omitempty"`
	PublicIP          string `json:"public_ip,omitempty"`
	ExternalIP        string `json:"external_ip,omitempty"`
	GlobalIP          string `json:"global_ip,omitempty"`
	Interface         string `json:"interface,omitempty"`
	Error             string `json:"error,omitempty"`
	Status            string `json:"status,omitempty"`
	AvailableMappings *int   `json:"available_mappings,omitempty"`
}

// ErrorResponse builds a reply carrying only an error message.
func ErrorResponse(msg string) Response {
	return Response{Error: msg}
}

// IsError reports whether the daemon rejected the request.
func (r *Response) IsError() bool {
	return r.Error != "" && r.Status == ""
}

func (r *Response) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// ReadMessage decodes a single JSON value. Input past MaxMessageSize bytes
// is never read.
func ReadMessage(r io.Reader, v any) error {
	return json.NewDecoder(io.LimitReader(r, MaxMessageSize)).Decode(v)
}

// WriteMessage encodes v as a single JSON document.
func WriteMessage(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("can't encode message: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("can't send message: %w", err)
	}
	return nil
}
