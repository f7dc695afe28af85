// Package conversation runs the bounded turn loop between a user, a model and
// the hub's tools.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcphub-go/pkg/toolrouter"
)

// State is the position of a turn in the session's state machine.
type State string

const (
	StateAwaitingModel State = "awaiting_model"
	StateDispatching   State = "dispatching"
	StateAnswered      State = "answered"
	StateStepLimited   State = "step_limited"
	StateFailed        State = "failed"
)

var (
	// ErrStepLimitExceeded is returned when a turn requests more tool calls
	// than MaxSteps allows.
	ErrStepLimitExceeded = errors.New("conversation: step limit exceeded")
	// ErrTurnTimeout is returned when a turn outlives TurnTimeout.
	ErrTurnTimeout = errors.New("conversation: turn timed out")
	// ErrModel wraps failures reported by the model.
	ErrModel = errors.New("conversation: model failed")
)

// StepLimitError carries the limit that was hit. It matches
// ErrStepLimitExceeded with errors.Is.
type StepLimitError struct {
	MaxSteps int
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("%v after %d tool calls", ErrStepLimitExceeded, e.MaxSteps)
}

func (e *StepLimitError) Is(target error) bool   { return target == ErrStepLimitExceeded }
func (e *StepLimitError) Kind() mcpmgr.ErrorKind { return mcpmgr.KindStepLimit }

// Reply is the outcome of one user message.
type Reply struct {
	SessionID string              `json:"session_id"`
	Text      string              `json:"text"`
	Results   []mcpmgr.ToolResult `json:"results,omitempty"`
	State     State               `json:"state"`
	Steps     int                 `json:"steps"`
	// Degraded is set when Text is an explanation produced by the session
	// rather than an answer from the model.
	Degraded bool `json:"degraded,omitempty"`
}

// ToolUsed returns the qualified name of the last tool that succeeded during
// the turn, or "".
func (r *Reply) ToolUsed() string {
	for i := len(r.Results) - 1; i >= 0; i-- {
		if r.Results[i].Success {
			return r.Results[i].QualifiedName
		}
	}
	return ""
}

// Options tunes a session.
type Options struct {
	// MaxSteps bounds the tool calls in one turn. Default 5.
	MaxSteps int
	// TurnTimeout bounds one HandleUserMessage call. Default 2m.
	TurnTimeout time.Duration
	// IdleTimeout is how long a Manager keeps a session nobody uses.
	// Default 30m.
	IdleTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.MaxSteps <= 0 {
		out.MaxSteps = 5
	}
	if out.TurnTimeout <= 0 {
		out.TurnTimeout = 2 * time.Minute
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = 30 * time.Minute
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

// Session is one conversation. Turns are processed one at a time; tool calls
// within a turn are dispatched sequentially.
type Session struct {
	id     string
	router Router
	opts   Options
	logger *slog.Logger

	turnMu sync.Mutex

	mu        sync.Mutex
	model     Model
	modelKey  string
	history   []Turn
	pending   map[int64]toolrouter.Invocation
	nextInvID int64
	lastUsed  time.Time
}

// NewSession starts an empty session.
func NewSession(model Model, router Router, opts *Options) *Session {
	return newSession(uuid.NewString(), model, "", router, opts.withDefaults())
}

func newSession(id string, model Model, modelKey string, router Router, opts Options) *Session {
	return &Session{
		id:       id,
		router:   router,
		opts:     opts,
		logger:   opts.Logger.With("component", "conversation", "session", id),
		model:    model,
		modelKey: modelKey,
		pending:  make(map[int64]toolrouter.Invocation),
		lastUsed: opts.Now(),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// History returns a copy of the turns so far.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

// Pending reports how many invocations are awaiting a result.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// LastUsed reports when the session last started or finished a turn or
// switched models.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = s.opts.Now()
	s.mu.Unlock()
}

// PresentCatalogue returns the tools the model may call right now.
func (s *Session) PresentCatalogue() []mcpmgr.ToolDescriptor {
	return s.router.Catalogue().Tools()
}

// Reset clears the history.
func (s *Session) Reset() {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.mu.Lock()
	s.history = nil
	s.pending = make(map[int64]toolrouter.Invocation)
	s.mu.Unlock()
}

// SetModel switches the model. Switching to a different key clears the
// history, since earlier turns were shaped by the previous model.
func (s *Session) SetModel(key string, model Model) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if key != s.modelKey {
		s.history = nil
		s.pending = make(map[int64]toolrouter.Invocation)
	}
	s.model = model
	s.modelKey = key
	s.lastUsed = s.opts.Now()
}

// HandleUserMessage runs one turn: the model is consulted until it answers,
// dispatching each tool call it requests, for at most MaxSteps tool calls.
// A turn that cannot complete still returns a Reply explaining why, together
// with an error: ErrStepLimitExceeded, ErrTurnTimeout or ErrModel.
func (s *Session) HandleUserMessage(ctx context.Context, text string) (*Reply, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.touch()
	defer s.touch()

	ctx, cancel := context.WithTimeout(ctx, s.opts.TurnTimeout)
	defer cancel()

	s.mu.Lock()
	model := s.model
	s.mu.Unlock()

	s.append(Turn{Role: RoleUser, Content: text})
	reply := &Reply{SessionID: s.id, State: StateAwaitingModel}

	for {
		decision, err := model.Decide(ctx, s.History(), s.PresentCatalogue())
		if err != nil {
			if ctx.Err() != nil {
				return s.timedOut(reply, err)
			}
			s.logger.Error("model failed", slog.Any("error", err))
			return s.degrade(reply, StateFailed,
				"Sorry, the language model could not be reached. Please try again.",
				fmt.Errorf("%w: %w", ErrModel, err))
		}

		if decision.ToolCall == nil {
			answer := StripReasoning(decision.FinalAnswer)
			s.append(Turn{Role: RoleAssistant, Content: answer})
			reply.Text = answer
			reply.State = StateAnswered
			return reply, nil
		}

		if reply.Steps >= s.opts.MaxSteps {
			return s.degrade(reply, StateStepLimited,
				stepLimitMessage(reply),
				&StepLimitError{MaxSteps: s.opts.MaxSteps})
		}

		reply.State = StateDispatching
		inv := s.beginInvocation(*decision.ToolCall)
		s.logger.Debug("dispatching tool", slog.Int64("invocation", inv.ID), slog.String("tool", inv.Name))
		result := s.router.Route(ctx, inv)
		s.completeInvocation(inv, result)
		reply.Results = append(reply.Results, result)
		reply.Steps++

		if ctx.Err() != nil {
			return s.timedOut(reply, ctx.Err())
		}
		reply.State = StateAwaitingModel
	}
}

func (s *Session) beginInvocation(inv toolrouter.Invocation) toolrouter.Invocation {
	s.mu.Lock()
	s.nextInvID++
	inv.ID = s.nextInvID
	if inv.Arguments == nil {
		inv.Arguments = map[string]any{}
	}
	s.pending[inv.ID] = inv
	s.history = append(s.history, Turn{Role: RoleAssistant, Invocation: &inv, At: s.opts.Now()})
	s.mu.Unlock()
	return inv
}

func (s *Session) completeInvocation(inv toolrouter.Invocation, result mcpmgr.ToolResult) {
	s.mu.Lock()
	delete(s.pending, inv.ID)
	s.history = append(s.history, Turn{Role: RoleTool, Invocation: &inv, Result: &result, At: s.opts.Now()})
	s.mu.Unlock()
}

func (s *Session) timedOut(reply *Reply, cause error) (*Reply, error) {
	s.logger.Warn("turn timed out", slog.Duration("timeout", s.opts.TurnTimeout), slog.Int("steps", reply.Steps))
	return s.degrade(reply, StateFailed,
		"Sorry, that took too long to answer. Please try again.",
		fmt.Errorf("%w after %s: %w", ErrTurnTimeout, s.opts.TurnTimeout, cause))
}

func (s *Session) degrade(reply *Reply, state State, text string, err error) (*Reply, error) {
	s.mu.Lock()
	// Invocations cut short by a timeout are never answered.
	s.pending = make(map[int64]toolrouter.Invocation)
	s.mu.Unlock()
	s.append(Turn{Role: RoleAssistant, Content: text})
	reply.Text = text
	reply.State = state
	reply.Degraded = true
	return reply, err
}

func stepLimitMessage(reply *Reply) string {
	msg := fmt.Sprintf("I stopped after %d tool calls without reaching an answer.", reply.Steps)
	if n := len(reply.Results); n > 0 {
		last := reply.Results[n-1]
		if last.Success {
			msg += fmt.Sprintf(" The last tool (%s) returned: %v", last.QualifiedName, last.Payload)
		} else if last.ErrorMessage != "" {
			msg += " The last tool call failed: " + last.ErrorMessage
		}
	}
	return msg
}

func (s *Session) append(t Turn) {
	if t.At.IsZero() {
		t.At = s.opts.Now()
	}
	s.mu.Lock()
	s.history = append(s.history, t)
	s.mu.Unlock()
}
