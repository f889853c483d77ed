package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/session"
)

// ErrUnknownAction is returned by Route for actions without a registered handler.
var ErrUnknownAction = errors.New("ocpp: unsupported action")

// Frame log directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// HandlerFunc processes a charger call on its session and returns the response body.
type HandlerFunc func(ctx context.Context, sess *session.Session, payload json.RawMessage) (interface{}, error)

// Router dispatches OCPP actions to handlers.
type Router struct {
	handlers map[string]HandlerFunc
}

// NewRouter returns router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register attaches handler to action.
func (r *Router) Register(action string, handler HandlerFunc) {
	r.handlers[action] = handler
}

// Actions lists the registered action names.
func (r *Router) Actions() []string {
	out := make([]string, 0, len(r.handlers))
	for action := range r.handlers {
		out = append(out, action)
	}
	return out
}

// Route executes handler for message.
func (r *Router) Route(ctx context.Context, sess *session.Session, msg *Message) (interface{}, error) {
	handler, ok := r.handlers[msg.Action]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownAction, msg.Action)
	}
	return handler(ctx, sess, msg.Payload)
}

// FrameLog stores raw OCPP frames.
type FrameLog interface {
	Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error
}

// FrameObserver is notified about every frame that crosses the wire.
type FrameObserver interface {
	ObserveFrame(direction, messageType, action string)
}

// Processor ties together parsing, routing, reply correlation and response encoding.
type Processor struct {
	parser   *Parser
	router   *Router
	engine   *session.Engine
	logRepo  FrameLog
	observer FrameObserver
	logger   *zap.Logger
}

// NewProcessor builds Processor. logRepo and observer may be nil.
func NewProcessor(parser *Parser, router *Router, engine *session.Engine, logRepo FrameLog, observer FrameObserver, logger *zap.Logger) *Processor {
	return &Processor{
		parser:   parser,
		router:   router,
		engine:   engine,
		logRepo:  logRepo,
		observer: observer,
		logger:   logger.Named("processor"),
	}
}

// Process handles one inbound frame and returns the frame to write back, if any. Frames that
// cannot be decoded are reported as an error and get no reply.
func (p *Processor) Process(ctx context.Context, sess *session.Session, raw []byte) ([]byte, error) {
	msg, err := p.parser.Parse(raw)
	if err != nil {
		p.Record(ctx, sess.Identity(), DirectionIncoming, "Invalid", "", raw)
		return nil, err
	}

	switch msg.MessageType {
	case protocol.MessageTypeCallResult:
		p.Record(ctx, sess.Identity(), DirectionIncoming, "CallResult", "", raw)
		p.engine.Resolve(sess, msg.UniqueID, session.ResultOutcome(msg.Payload))
		return nil, nil
	case protocol.MessageTypeCallError:
		p.Record(ctx, sess.Identity(), DirectionIncoming, "CallError", "", raw)
		p.engine.Resolve(sess, msg.UniqueID, session.ErrorOutcome(msg.ErrorCode, msg.ErrorDescription, msg.ErrorDetails))
		return nil, nil
	}

	p.Record(ctx, sess.Identity(), DirectionIncoming, msg.Action, msg.Action, raw)
	sess.SetLastInboundID(msg.UniqueID)

	responsePayload, err := p.router.Route(ctx, sess, msg)
	if err != nil {
		code := errorCode(err)
		p.logger.Warn("ocpp handler failed",
			zap.String("station_id", sess.Identity()),
			zap.String("action", msg.Action),
			zap.String("error_code", code),
			zap.Error(err))
		resp, encErr := BuildCallError(msg.UniqueID, code, err.Error())
		if encErr != nil {
			return nil, encErr
		}
		p.Record(ctx, sess.Identity(), DirectionOutgoing, "CallError", msg.Action, resp)
		return resp, nil
	}

	respBytes, err := BuildCallResult(msg.UniqueID, responsePayload)
	if err != nil {
		p.logger.Error("encode ocpp response failed", zap.String("action", msg.Action), zap.Error(err))
		return nil, err
	}

	p.Record(ctx, sess.Identity(), DirectionOutgoing, "CallResult", msg.Action, respBytes)
	return respBytes, nil
}

// Record hands a frame to the frame log and observer. Frame log failures are logged only.
func (p *Processor) Record(ctx context.Context, stationID, direction, messageType, action string, frame []byte) {
	if p.observer != nil {
		p.observer.ObserveFrame(direction, messageType, action)
	}
	if p.logRepo == nil {
		return
	}
	if err := p.logRepo.Save(ctx, stationID, direction, messageType, frame); err != nil {
		p.logger.Debug("frame log write failed", zap.String("station_id", stationID), zap.Error(err))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownAction):
		return protocol.ErrorNotImplemented
	case errors.Is(err, ErrInvalidPayload):
		return protocol.ErrorFormationViolation
	case errors.Is(err, session.ErrSessionClosed):
		return protocol.ErrorGenericError
	default:
		return protocol.ErrorInternalError
	}
}
