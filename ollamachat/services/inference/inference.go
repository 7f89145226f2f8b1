// ollamachat/services/inference/inference.go
package inference

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ollamachat/ollamachat/services/engine"
	"ollamachat/ollamachat/services/history"
	"ollamachat/ollamachat/services/prompt"
	"ollamachat/ollamachat/sources/session"
	"ollamachat/ollamachat/types"
	"ollamachat/ollamachat/utils/errs"
	"ollamachat/ollamachat/utils/logging"
	"ollamachat/ollamachat/utils/validation"
)

// Sentinel is the payload of the final event of every stream.
const Sentinel = "[DONE]"

const (
	unexpectedError = "An unexpected error occurred while processing your request."
	saveTimeout     = 5 * time.Second
)

// Engine runs one model invocation, calling onLine for each output line.
type Engine interface {
	Run(ctx context.Context, model, prompt string, onLine func(string)) (engine.Exit, error)
}

// Models resolves which models a session may use. Invalidate is called when
// the engine reports a model missing, so the next lookup re-queries it.
type Models interface {
	Available(ctx context.Context, sess *session.Session) ([]string, error)
	Invalidate()
}

type EventKind int

const (
	EventToken EventKind = iota
	EventError
	EventDone
)

// Event is one streamed item. Data holds a line of model output for
// tokens and the message for errors.
type Event struct {
	Kind EventKind
	Data string
}

// Payload is the text sent to the client for this event.
func (e Event) Payload() string {
	switch e.Kind {
	case EventError:
		return "Error: " + e.Data
	case EventDone:
		return Sentinel
	default:
		return e.Data
	}
}

type State int32

const (
	Idle State = iota
	Validating
	Running
	Draining
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Result is how a stream ended.
type Result struct {
	State    State
	ExitCode int
	Content  string
	Err      error
}

// Stream is one in-flight request to the engine. Events must be drained
// until closed; the last event delivered is always EventDone unless the
// caller's context ended first.
type Stream struct {
	ChatID string
	Model  string

	events chan Event
	done   chan struct{}
	state  atomic.Int32
	result Result
}

func (s *Stream) Events() <-chan Event { return s.events }

func (s *Stream) State() State { return State(s.state.Load()) }

// Wait blocks until the stream has finished and returns its outcome.
func (s *Stream) Wait() Result {
	<-s.done
	return s.result
}

func (s *Stream) setState(st State) { s.state.Store(int32(st)) }

type Service struct {
	engine    Engine
	models    Models
	history   *history.Store
	sessions  *session.Manager
	validator validation.Validator
	logs      *logging.Loggers
}

func NewService(eng Engine, models Models, hist *history.Store, sessions *session.Manager,
	validator validation.Validator, logs *logging.Loggers) *Service {
	return &Service{
		engine:    eng,
		models:    models,
		history:   hist,
		sessions:  sessions,
		validator: validator,
		logs:      logs,
	}
}

// Start validates the request, records the user turn and launches the
// engine in the background. Errors returned here happen before anything
// has been streamed; failures after that point arrive as events.
// Cancelling ctx kills the engine and no assistant turn is recorded.
func (s *Service) Start(ctx context.Context, sessionID string, in validation.Input) (*Stream, error) {
	st := &Stream{
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	st.setState(Validating)

	if err := s.validator.Validate(in, "prompt", "model", "chat_id"); err != nil {
		return nil, err
	}
	userPrompt := in.String("prompt")
	st.Model = in.String("model")
	st.ChatID = in.String("chat_id")

	var fullPrompt string
	err := s.sessions.Update(ctx, sessionID, func(sess *session.Session) error {
		available, err := s.models.Available(ctx, sess)
		if err != nil {
			return err
		}
		if !slices.Contains(available, st.Model) {
			return errs.New(errs.ModelNotAvailable, "Model not available",
				fmt.Sprintf("The model '%s' is not in your available models list.", st.Model))
		}
		s.history.Append(sess, st.ChatID, types.RoleUser, userPrompt)
		msgs, err := s.history.Get(sess, st.ChatID)
		if err != nil {
			return err
		}
		fullPrompt = prompt.Build(msgs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logs.App.Info("processing chat",
		zap.String("chat_id", st.ChatID),
		zap.String("model", st.Model),
		logging.SessionField(sessionID),
	)
	st.setState(Running)
	go s.run(ctx, sessionID, st, fullPrompt)
	return st, nil
}

func (s *Service) run(ctx context.Context, sessionID string, st *Stream, fullPrompt string) {
	defer close(st.done)
	defer close(st.events)
	defer s.logs.LogDuration(ctx, "inference_stream")()

	emit := func(ev Event) bool {
		select {
		case st.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	finish := func(res Result) {
		st.result = res
		st.setState(res.State)
		emit(Event{Kind: EventDone})
	}
	fields := []zap.Field{zap.String("chat_id", st.ChatID), zap.String("model", st.Model), logging.SessionField(sessionID)}

	var buf strings.Builder
	exit, err := s.engine.Run(ctx, st.Model, fullPrompt, func(line string) {
		st.setState(Draining)
		if strings.TrimSpace(line) == "" {
			return
		}
		s.logs.App.Debug("engine output", append(fields, zap.String("line", line))...)
		buf.WriteString(line)
		buf.WriteByte('\n')
		emit(Event{Kind: EventToken, Data: line})
	})

	if ctx.Err() != nil {
		s.logs.App.Info("client disconnected, engine stopped", fields...)
		st.result = Result{State: Failed, ExitCode: exit.Code, Err: ctx.Err()}
		st.setState(Failed)
		return
	}
	if err != nil {
		s.logs.Error.Error("stream error", append(fields, zap.Error(err))...)
		emit(Event{Kind: EventError, Data: unexpectedError})
		finish(Result{State: Failed, ExitCode: exit.Code, Err: err})
		return
	}
	if exit.Code != 0 {
		msg := engine.DescribeExit(exit.Code)
		if stderr := strings.TrimSpace(exit.Stderr); stderr != "" {
			msg += ": " + stderr
		}
		s.logs.Error.Error("engine failed", append(fields, zap.Int("exit_code", exit.Code), zap.String("stderr", exit.Stderr))...)
		if exit.Code == engine.ExitModelMissing {
			s.models.Invalidate()
		}
		emit(Event{Kind: EventError, Data: msg})
		finish(Result{State: Failed, ExitCode: exit.Code, Err: fmt.Errorf("engine exited with code %d", exit.Code)})
		return
	}

	content := strings.TrimSpace(buf.String())
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	err = s.sessions.Update(saveCtx, sessionID, func(sess *session.Session) error {
		s.history.Append(sess, st.ChatID, types.RoleAssistant, content)
		return nil
	})
	if err != nil {
		s.logs.Error.Error("saving assistant turn failed", append(fields, zap.Error(err))...)
		emit(Event{Kind: EventError, Data: unexpectedError})
		finish(Result{State: Failed, Content: content, Err: err})
		return
	}
	s.logs.App.Info("chat completed", append(fields, zap.Int("response_chars", len(content)))...)
	finish(Result{State: Completed, Content: content})
}
