package dianya

import (
	"bytes"
	"encoding/json"
)

// Wire values of the "type" discriminator.
const (
	MessageTypeStop          = "stop"
	MessageTypeError         = "error"
	MessageTypeResult        = "asr_result"
	MessageTypeResultPartial = "asr_result_partial"
)

type EventKind int

const (
	EventUnknown EventKind = iota
	EventPartialResult
	EventFinalResult
	EventStop
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPartialResult:
		return "partial_result"
	case EventFinalResult:
		return "final_result"
	case EventStop:
		return "stop"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a decoded inbound frame.
//
// Text is set for partial and final results. Detail and Err are set for
// EventError; Err is a ServerError for errors sent by the server and the
// underlying failure for transport errors reported by the receive loop.
// Type and Raw always carry the frame as received.
type Event struct {
	Kind   EventKind
	Type   string
	Text   string
	Detail string
	Err    error
	Raw    []byte
}

// Terminal reports whether the receive loop stops after delivering e.
func (e Event) Terminal() bool {
	return e.Kind == EventStop || e.Kind == EventError
}

// DecodeEvent decodes one JSON text frame. Unrecognized types decode to
// EventUnknown; only malformed JSON is an error.
func DecodeEvent(raw []byte) (Event, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{Raw: raw}, NewErrorWithCause(ErrorKindDecoding, "failed to parse stream message", err)
	}

	ev := Event{Type: msg.Type, Raw: raw}
	switch msg.Type {
	case MessageTypeResultPartial, MessageTypeResult:
		var data resultData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				return ev, NewErrorWithCause(ErrorKindDecoding, "failed to parse "+msg.Type+" data", err)
			}
		}
		ev.Text = data.Text
		if msg.Type == MessageTypeResult {
			ev.Kind = EventFinalResult
		} else {
			ev.Kind = EventPartialResult
		}
	case MessageTypeStop:
		ev.Kind = EventStop
	case MessageTypeError:
		ev.Kind = EventError
		ev.Detail = errorDetail(msg.Data)
		ev.Err = NewError(ErrorKindServer, ev.Detail)
	default:
		ev.Kind = EventUnknown
	}
	return ev, nil
}

// errorDetail renders the data of an error frame. Plain strings are
// unquoted, objects prefer their "message" field.
func errorDetail(data json.RawMessage) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "server reported an error"
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err == nil {
		return buf.String()
	}
	return string(data)
}

func transportErrorEvent(err error) Event {
	return Event{
		Kind:   EventError,
		Detail: err.Error(),
		Err:    err,
	}
}
