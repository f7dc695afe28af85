package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: %s returned HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// MaxRetriesError is returned when every attempt failed transiently.
type MaxRetriesError struct {
	Attempts   int
	LastStatus int
	Err        error
}

func (e *MaxRetriesError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: giving up after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("llm: giving up after %d attempts (last HTTP %d)", e.Attempts, e.LastStatus)
}

func (e *MaxRetriesError) Unwrap() error { return e.Err }

// apiError reads resp's body into an APIError. Both providers nest the
// human-readable message under error.message.
func apiError(provider string, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(body))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
}
