package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/dkeye/proximity/internal/core"
)

var (
	ErrEmpty        = errors.New("empty message")
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing field")
)

type envelope struct {
	Type string `json:"type"`
}

// Encode stamps the message type and marshals it.
func Encode(m Message) (core.Frame, error) {
	if m == nil {
		return nil, fmt.Errorf("encode: nil message")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	return b, nil
}

func peekType(b []byte) (string, error) {
	if len(b) == 0 {
		return "", ErrEmpty
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return "", err
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: type", ErrMissingField)
	}
	return env.Type, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// DecodeClient parses a message sent by a participant.
func DecodeClient(b []byte) (Message, error) {
	t, err := peekType(b)
	if err != nil {
		return nil, err
	}
	switch t {
	case MsgJoin:
		var m Join
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MsgMove:
		var w struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		}
		if err := json.Unmarshal(b, &w); err != nil {
			return nil, err
		}
		if w.X == nil || w.Y == nil {
			return nil, fmt.Errorf("%w: move needs x and y", ErrMissingField)
		}
		return Move{Type: MsgMove, X: *w.X, Y: *w.Y}, nil
	case MsgLeave:
		return Leave{Type: MsgLeave}, nil
	case MsgSignal:
		var m Signal
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		if m.TargetID == "" || isAbsent(m.Payload) {
			return nil, fmt.Errorf("%w: signal needs targetId and payload", ErrMissingField)
		}
		return m, nil
	case MsgPing:
		return Ping{Type: MsgPing}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// DecodeServer parses a message sent by the server.
func DecodeServer(b []byte) (Message, error) {
	t, err := peekType(b)
	if err != nil {
		return nil, err
	}
	switch t {
	case MsgInit:
		return decodeAs[Init](b)
	case MsgJoined:
		return decodeAs[Joined](b)
	case MsgMoved:
		return decodeAs[Moved](b)
	case MsgLeft:
		m, err := decodeAs[Left](b)
		if err == nil && m.ID == "" {
			return nil, fmt.Errorf("%w: id", ErrMissingField)
		}
		return m, err
	case MsgSignal:
		return decodeAs[Relayed](b)
	case MsgPong:
		return Pong{Type: MsgPong}, nil
	case MsgError:
		return decodeAs[Error](b)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func decodeAs[T Message](b []byte) (T, error) {
	var out T
	err := json.Unmarshal(b, &out)
	return out, err
}
