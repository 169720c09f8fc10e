package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"

	"chargepoint/internal/ocpp/protocol"
)

// ErrMalformedFrame is returned for frames that are not a valid OCPP-J array.
var ErrMalformedFrame = errors.New("ocpp: malformed frame")

// Message represents a parsed OCPP frame of any of the three kinds.
type Message struct {
	MessageType      protocol.MessageType
	UniqueID         string
	Action           protocol.Action
	Payload          json.RawMessage
	ErrorCode        protocol.ErrorCode
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// Parse decodes a raw frame.
func Parse(data []byte) (*Message, error) {
	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if len(array) < 3 {
		return nil, ErrMalformedFrame
	}

	var msgType protocol.MessageType
	if err := json.Unmarshal(array[0], &msgType); err != nil {
		return nil, fmt.Errorf("%w: message type: %v", ErrMalformedFrame, err)
	}

	msg := &Message{MessageType: msgType}
	if err := json.Unmarshal(array[1], &msg.UniqueID); err != nil {
		return nil, fmt.Errorf("%w: unique id: %v", ErrMalformedFrame, err)
	}

	switch msgType {
	case protocol.MessageTypeCall:
		if len(array) < 4 {
			return nil, fmt.Errorf("%w: incomplete CALL", ErrMalformedFrame)
		}
		if err := json.Unmarshal(array[2], &msg.Action); err != nil {
			return nil, fmt.Errorf("%w: action: %v", ErrMalformedFrame, err)
		}
		msg.Payload = array[3]
	case protocol.MessageTypeCallResult:
		msg.Payload = array[2]
	case protocol.MessageTypeCallError:
		if len(array) < 4 {
			return nil, fmt.Errorf("%w: incomplete CALLERROR", ErrMalformedFrame)
		}
		if err := json.Unmarshal(array[2], &msg.ErrorCode); err != nil {
			return nil, fmt.Errorf("%w: error code: %v", ErrMalformedFrame, err)
		}
		if err := json.Unmarshal(array[3], &msg.ErrorDescription); err != nil {
			return nil, fmt.Errorf("%w: error description: %v", ErrMalformedFrame, err)
		}
		if len(array) > 4 {
			msg.ErrorDetails = array[4]
		}
	default:
		return nil, fmt.Errorf("%w: unsupported message type %d", ErrMalformedFrame, msgType)
	}

	return msg, nil
}

// BuildCall builds a CALL frame.
func BuildCall(uniqueID string, action protocol.Action, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCall, uniqueID, action, json.RawMessage(body)}
	return json.Marshal(frame)
}

// BuildCallResult builds standard CALLRESULT payload.
func BuildCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCallResult, uniqueID, json.RawMessage(body)}
	return json.Marshal(frame)
}

// BuildCallError builds CALLERROR payload.
func BuildCallError(uniqueID string, code protocol.ErrorCode, description string) ([]byte, error) {
	frame := []interface{}{protocol.MessageTypeCallError, uniqueID, code, description, map[string]string{}}
	return json.Marshal(frame)
}
