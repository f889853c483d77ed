// Package natsapi serves operator commands over NATS request/reply.
package natsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/dispatch"
)

// DefaultSubject is where commands are requested when none is configured.
const DefaultSubject = "ocpp.commands"

// Error codes returned in Reply.Error.
const (
	CodeFormatNotValid  = "command.format.not.valid"
	CodeActionNotFound  = "command.action.not.found"
	CodePayloadNotValid = "command.payload.not.valid"
	CodeInternal        = "command.internal"
)

// Executor issues a validated operator command.
type Executor interface {
	Execute(ctx context.Context, action string, body json.RawMessage) (dispatch.Result, error)
}

// Command is one request message. Payload has the same shape as the HTTP request body for
// Action.
type Command struct {
	Action  string          `json:"action" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// Error describes why a command was not issued.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply is the response message.
type Reply struct {
	Action string `json:"action,omitempty"`
	*dispatch.Result
	Error *Error `json:"error,omitempty"`
}

// Service answers command requests on a subject.
type Service struct {
	executor Executor
	subject  string
	validate *validator.Validate
	logger   *zap.Logger

	conn *nats.Conn
	sub  *nats.Subscription
	wg   sync.WaitGroup
}

// New builds Service.
func New(executor Executor, subject string, logger *zap.Logger) *Service {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Service{
		executor: executor,
		subject:  subject,
		validate: validator.New(),
		logger:   logger.Named("nats"),
	}
}

// Handle decodes one request and returns the encoded reply.
func (s *Service) Handle(ctx context.Context, data []byte) []byte {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return s.encode(Reply{Error: &Error{Code: CodeFormatNotValid, Message: err.Error()}})
	}
	if err := s.validate.Struct(&cmd); err != nil {
		return s.encode(Reply{Error: &Error{Code: CodeFormatNotValid, Message: err.Error()}})
	}

	res, err := s.executor.Execute(ctx, cmd.Action, cmd.Payload)
	switch {
	case errors.Is(err, dispatch.ErrUnknownCommand):
		return s.encode(Reply{Action: cmd.Action, Error: &Error{Code: CodeActionNotFound, Message: fmt.Sprintf("unknown action %q", cmd.Action)}})
	case errors.Is(err, dispatch.ErrInvalidRequest):
		return s.encode(Reply{Action: cmd.Action, Error: &Error{Code: CodePayloadNotValid, Message: err.Error()}})
	case err != nil:
		return s.encode(Reply{Action: cmd.Action, Error: &Error{Code: CodeInternal, Message: err.Error()}})
	}
	return s.encode(Reply{Action: cmd.Action, Result: &res})
}

func (s *Service) encode(reply Reply) []byte {
	bt, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("encode reply failed", zap.Error(err))
		return []byte(`{"error":{"code":"` + CodeInternal + `","message":"encode reply"}}`)
	}
	return bt
}

// Start connects to url and subscribes. Requests are served concurrently until Close.
func (s *Service) Start(ctx context.Context, url string) error {
	nc, err := nats.Connect(url, nats.Name("ocpp-server"))
	if err != nil {
		return fmt.Errorf("natsapi: connect: %w", err)
	}

	sub, err := nc.Subscribe(s.subject, func(m *nats.Msg) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			reply := s.Handle(ctx, m.Data)
			if err := m.Respond(reply); err != nil {
				s.logger.Warn("respond failed", zap.String("subject", m.Subject), zap.Error(err))
			}
		}()
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("natsapi: subscribe %s: %w", s.subject, err)
	}

	s.conn, s.sub = nc, sub
	s.logger.Info("serving commands", zap.String("subject", s.subject), zap.String("url", url))
	return nil
}

// Close drains the subscription, waits for in-flight commands and closes the connection.
func (s *Service) Close() {
	if s.conn == nil {
		return
	}
	if err := s.sub.Unsubscribe(); err != nil {
		s.logger.Debug("unsubscribe failed", zap.Error(err))
	}
	s.wg.Wait()
	s.conn.Close()
	s.logger.Info("nats stopped")
}
