// Package protocol implements the line-oriented request channel between a
// running script and the host. A script prints a JSON envelope between two
// sentinels on stdout; replies to get-style requests are written back to the
// script's stdin using the same framing.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	StartMarker = "__API_START__"
	EndMarker   = "__API_END__"
)

type Type string

const (
	TypeProgress Type = "progress"
	TypeStatus   Type = "status"
	TypeSetting  Type = "setting"
)

// Envelope is the JSON body carried between the sentinels.
type Envelope struct {
	Type Type           `json:"type"`
	Data map[string]any `json:"data"`
}

// Message is a decoded envelope that has been routed to a handler.
type Message struct {
	Handler Handler
	Type    Type
	Data    map[string]any
}

// ExpectsReply reports whether the script is blocked on stdin waiting for
// an answer. The host must write a framed reply for these, even an empty one.
func (m Message) ExpectsReply() bool {
	return m.Handler == HandlerGetStatus || m.Handler == HandlerSetting
}

func (m Message) String(key string) (string, bool) {
	v, ok := m.Data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m Message) Bool(key string) bool {
	v, _ := m.Data[key].(bool)
	return v
}

// Percent returns the progress value clamped to 0..100.
func (m Message) Percent() (float64, bool) {
	var p float64
	switch v := m.Data["percent"].(type) {
	case float64:
		p = v
	case int:
		p = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		p = f
	default:
		return 0, false
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p, true
}

var (
	ErrNoEnvelope  = errors.New("line does not contain a protocol envelope")
	ErrUnknownType = errors.New("unknown protocol request")
)

// DecodeError wraps a malformed envelope together with the offending payload.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode protocol envelope %q: %v", e.Payload, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Contains reports whether the line carries a framed envelope.
func Contains(line string) bool {
	start := strings.Index(line, StartMarker)
	if start < 0 {
		return false
	}
	return strings.Contains(line[start+len(StartMarker):], EndMarker)
}

// Unframe extracts the text between the first start marker and the first end
// marker that follows it.
func Unframe(line string) (string, bool) {
	start := strings.Index(line, StartMarker)
	if start < 0 {
		return "", false
	}
	rest := line[start+len(StartMarker):]
	end := strings.Index(rest, EndMarker)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// Frame wraps a payload in the sentinels. No trailing newline is added.
func Frame(payload string) string {
	return StartMarker + payload + EndMarker
}

func Encode(env Envelope) (string, error) {
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode protocol envelope: %w", err)
	}
	return Frame(string(b)), nil
}

// Decode unframes, parses and routes a single stdout line.
func Decode(line string) (Message, error) {
	payload, ok := Unframe(line)
	if !ok {
		return Message{}, ErrNoEnvelope
	}

	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Message{}, &DecodeError{Payload: payload, Err: err}
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}

	h, err := Route(env)
	if err != nil {
		return Message{}, err
	}
	return Message{Handler: h, Type: env.Type, Data: env.Data}, nil
}
