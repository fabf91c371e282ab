// Package output renders results for the CLI and the HTTP API.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Version is the regview version, set at build time with -ldflags.
var Version = "dev"

// Response is the JSON envelope shared by the CLI --json mode and the HTTP API.
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339
	Version   string `json:"version"`
}

// SuccessResponse creates a successful response with data.
func SuccessResponse(data any) Response {
	return Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   Version,
	}
}

// ErrorResponse creates an error response. The kind is derived from err.
func ErrorResponse(err error) Response {
	return Response{
		Success:   false,
		Error:     err.Error(),
		Kind:      ErrorKind(err),
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   Version,
	}
}

// ErrorMessageResponse creates an error response from a string message.
func ErrorMessageResponse(message string) Response {
	return Response{
		Success:   false,
		Error:     message,
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   Version,
	}
}

// WriteJSON writes a Response as indented JSON to the given writer.
func WriteJSON(w io.Writer, response Response) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WriteJSONData wraps data in a success response and writes it.
func WriteJSONData(w io.Writer, data any) error {
	return WriteJSON(w, SuccessResponse(data))
}

// WriteJSONError wraps an error in a response and writes it.
func WriteJSONError(w io.Writer, err error) error {
	return WriteJSON(w, ErrorResponse(err))
}
