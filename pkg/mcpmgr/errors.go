package mcpmgr

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failure so it can be carried inside a ToolResult.
type ErrorKind string

const (
	KindStartup          ErrorKind = "startup"
	KindTimeout          ErrorKind = "timeout"
	KindProtocol         ErrorKind = "protocol"
	KindToolNotFound     ErrorKind = "tool_not_found"
	KindAmbiguousTool    ErrorKind = "ambiguous_tool"
	KindInvalidArguments ErrorKind = "invalid_arguments"
	KindToolError        ErrorKind = "tool_error"
	KindStepLimit        ErrorKind = "step_limit"
	KindInternal         ErrorKind = "internal"
)

// KindedError is implemented by every error in the hub's taxonomy.
type KindedError interface {
	error
	Kind() ErrorKind
}

// KindOf reports the ErrorKind of err, or KindInternal when err carries none.
func KindOf(err error) ErrorKind {
	var k KindedError
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// StartupError reports that a server could not be launched or did not finish
// the handshake in time.
type StartupError struct {
	Server string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("mcpmgr: start %q: %v", e.Server, e.Err)
}

func (e *StartupError) Unwrap() error   { return e.Err }
func (e *StartupError) Kind() ErrorKind { return KindStartup }

// TimeoutError reports a tool call that did not complete in time.
type TimeoutError struct {
	Server string
	Tool   string
	After  time.Duration
	Err    error
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("mcpmgr: %s.%s timed out after %s", e.Server, e.Tool, e.After)
	}
	return fmt.Sprintf("mcpmgr: %s.%s timed out: %v", e.Server, e.Tool, e.Err)
}

func (e *TimeoutError) Unwrap() error   { return e.Err }
func (e *TimeoutError) Kind() ErrorKind { return KindTimeout }

// ProtocolError reports a broken exchange: transport failure, a JSON-RPC error
// or a response that could not be interpreted.
type ProtocolError struct {
	Server string
	Tool   string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("mcpmgr: %s: protocol error: %v", e.Server, e.Err)
	}
	return fmt.Sprintf("mcpmgr: %s.%s: protocol error: %v", e.Server, e.Tool, e.Err)
}

func (e *ProtocolError) Unwrap() error   { return e.Err }
func (e *ProtocolError) Kind() ErrorKind { return KindProtocol }

// ToolNotFoundError reports a tool that no Ready connection serves. Status is
// set when the owning server is known but not Ready.
type ToolNotFoundError struct {
	Name   string
	Server string
	Status Status
}

func (e *ToolNotFoundError) Error() string {
	if e.Server != "" && e.Status != "" {
		return fmt.Sprintf("mcpmgr: tool %q unavailable: server %q is %s", e.Name, e.Server, e.Status)
	}
	return fmt.Sprintf("mcpmgr: tool %q not found", e.Name)
}

func (e *ToolNotFoundError) Kind() ErrorKind { return KindToolNotFound }

// ErrStopped is returned by operations on a connection that was shut down.
var ErrStopped = errors.New("mcpmgr: connection stopped")
