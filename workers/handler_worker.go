package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/job"
	"github.com/BranchIntl/windup/pool"
)

// Re-exported so callers of this package need not import errors
var (
	ErrMissingHandlerName = errors.ErrMissingHandlerName
	ErrInvalidHandler     = errors.ErrInvalidHandler
)

// Message is the payload a HandlerWorker expects
type Message struct {
	Handler string `json:"handler"`
	Msg     any    `json:"msg,omitempty"`
}

// NewMessage builds a payload for the named handler
func NewMessage(handler string, msg any) Message {
	return Message{Handler: handler, Msg: msg}
}

// HandlerWorker resolves the handler named by each job and runs it
type HandlerWorker struct {
	handlers *Handlers
	logger   *slog.Logger
}

// NewHandlerWorker returns a pool factory for workers sharing handlers
func NewHandlerWorker(handlers *Handlers) pool.Factory {
	return func() pool.Worker {
		return &HandlerWorker{handlers: handlers, logger: slog.Default()}
	}
}

// Perform implements pool.Worker
func (w *HandlerWorker) Perform(ctx context.Context, j *job.Job) (any, error) {
	msg, err := decodeMessage(j.Payload)
	if err != nil {
		return nil, err
	}
	if msg.Handler == "" {
		return nil, ErrMissingHandlerName
	}

	constructor, ok := w.handlers.Get(msg.Handler)
	if !ok {
		return nil, fmt.Errorf("%w: no handler defined by %s", ErrInvalidHandler, msg.Handler)
	}

	handler, ok := constructor(msg.Msg).(Handler)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not implement Perform", ErrInvalidHandler, msg.Handler)
	}

	w.logger.Debug("Running handler", "handler", msg.Handler, "job", j.ID)
	return handler.Perform(ctx)
}

// decodeMessage accepts a Message directly or anything that encodes to the
// same JSON shape, such as the map a network store decodes to.
func decodeMessage(payload any) (Message, error) {
	switch p := payload.(type) {
	case Message:
		return p, nil
	case *Message:
		if p == nil {
			return Message{}, nil
		}
		return *p, nil
	case nil:
		return Message{}, nil
	case map[string]any:
		name, _ := p["handler"].(string)
		return Message{Handler: name, Msg: p["msg"]}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, errors.NewSerializationError("json", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// not an object, so there is no handler field to read
		return Message{}, nil
	}
	return msg, nil
}
