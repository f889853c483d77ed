package ocpp

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

var (
	// ErrDecode marks every inbound frame that could not be turned into a Message.
	ErrDecode = errors.New("ocpp: decode failed")
	// ErrInvalidPayload is returned by Decode when a payload does not fit the action's schema.
	ErrInvalidPayload = errors.New("ocpp: invalid payload")
)

var emptyObject = json.RawMessage(`{}`)

// Message represents a parsed OCPP-J frame of any of the three kinds.
type Message struct {
	MessageType int
	UniqueID    string
	// Action is set for CALL frames only.
	Action  string
	Payload json.RawMessage
	// Error fields are set for CALLERROR frames only.
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// IsCall reports whether the frame is a request.
func (m *Message) IsCall() bool {
	return m.MessageType == protocol.MessageTypeCall
}

// Parser decodes raw OCPP-J frames.
type Parser struct {
	base64Frames bool
}

// NewParser returns parser. With base64Frames set, frames may arrive base64 wrapped; frames that
// already start with '[' are still accepted as plain JSON.
func NewParser(base64Frames bool) *Parser {
	return &Parser{base64Frames: base64Frames}
}

// Parse decodes []byte into Message struct.
func (p *Parser) Parse(data []byte) (*Message, error) {
	data = bytes.TrimSpace(data)
	if p.base64Frames && (len(data) == 0 || data[0] != '[') {
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, decodeError("invalid base64 envelope: %v", err)
		}
		data = bytes.TrimSpace(decoded)
	}

	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err != nil {
		return nil, decodeError("frame is not a JSON array: %v", err)
	}

	if len(array) < 3 {
		return nil, decodeError("malformed frame with %d elements", len(array))
	}

	var msgType int
	if err := json.Unmarshal(array[0], &msgType); err != nil {
		return nil, decodeError("read message type: %v", err)
	}

	msg := &Message{MessageType: msgType}
	if err := json.Unmarshal(array[1], &msg.UniqueID); err != nil {
		return nil, decodeError("read unique id: %v", err)
	}

	switch msgType {
	case protocol.MessageTypeCall:
		if len(array) < 4 {
			return nil, decodeError("incomplete CALL frame")
		}
		if err := json.Unmarshal(array[2], &msg.Action); err != nil {
			return nil, decodeError("read action: %v", err)
		}
		if msg.Action == "" {
			return nil, decodeError("empty action")
		}
		msg.Payload = normalize(array[3])
	case protocol.MessageTypeCallResult:
		msg.Payload = normalize(array[2])
	case protocol.MessageTypeCallError:
		if len(array) < 4 {
			return nil, decodeError("incomplete CALLERROR frame")
		}
		if err := json.Unmarshal(array[2], &msg.ErrorCode); err != nil {
			return nil, decodeError("read error code: %v", err)
		}
		if err := json.Unmarshal(array[3], &msg.ErrorDescription); err != nil {
			return nil, decodeError("read error description: %v", err)
		}
		msg.ErrorDetails = emptyObject
		if len(array) > 4 {
			msg.ErrorDetails = normalize(array[4])
		}
	default:
		return nil, decodeError("unsupported message type %d", msgType)
	}

	return msg, nil
}

// Encode serializes a Message into its wire array.
func Encode(msg *Message) ([]byte, error) {
	var frame []interface{}
	switch msg.MessageType {
	case protocol.MessageTypeCall:
		frame = []interface{}{protocol.MessageTypeCall, msg.UniqueID, msg.Action, normalize(msg.Payload)}
	case protocol.MessageTypeCallResult:
		frame = []interface{}{protocol.MessageTypeCallResult, msg.UniqueID, normalize(msg.Payload)}
	case protocol.MessageTypeCallError:
		frame = []interface{}{protocol.MessageTypeCallError, msg.UniqueID, msg.ErrorCode, msg.ErrorDescription, normalize(msg.ErrorDetails)}
	default:
		return nil, fmt.Errorf("ocpp: cannot encode message type %d", msg.MessageType)
	}
	return json.Marshal(frame)
}

// BuildCall builds a CALL frame for a central-system initiated request.
func BuildCall(uniqueID, action string, payload interface{}) ([]byte, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return Encode(&Message{MessageType: protocol.MessageTypeCall, UniqueID: uniqueID, Action: action, Payload: body})
}

// BuildCallResult builds standard CALLRESULT payload.
func BuildCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return Encode(&Message{MessageType: protocol.MessageTypeCallResult, UniqueID: uniqueID, Payload: body})
}

// BuildCallError builds CALLERROR payload.
func BuildCallError(uniqueID, code, description string) ([]byte, error) {
	return Encode(&Message{
		MessageType:      protocol.MessageTypeCallError,
		UniqueID:         uniqueID,
		ErrorCode:        code,
		ErrorDescription: description,
	})
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return emptyObject, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return normalize(raw), nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ocpp: encode payload: %w", err)
	}
	return body, nil
}

func normalize(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyObject
	}
	return trimmed
}

func decodeError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}

// Decode convenience helper for handlers.
func Decode[T any](payload json.RawMessage) (T, error) {
	var target T
	if err := json.Unmarshal(normalize(payload), &target); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return target, nil
}
