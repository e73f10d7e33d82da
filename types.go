package dianya

import (
	"encoding/json"
	"strings"
)

type ModelType string

const (
	ModelSpeed     ModelType = "speed"
	ModelQuality   ModelType = "quality"
	ModelQualityV2 ModelType = "quality_v2"
)

// ParseModelType accepts a model name in any letter case.
func ParseModelType(s string) (ModelType, error) {
	switch m := ModelType(strings.ToLower(strings.TrimSpace(s))); m {
	case ModelSpeed, ModelQuality, ModelQualityV2:
		return m, nil
	default:
		return "", NewError(ErrorKindInvalidInput, "invalid model type: "+s)
	}
}

func (m ModelType) String() string {
	return string(m)
}

// SessionDescriptor identifies one remote transcription session. It is
// produced by CreateSession and consumed once to open a Stream.
type SessionDescriptor struct {
	TaskID             string `json:"task_id"`
	SessionID          string `json:"session_id"`
	UsageID            string `json:"usage_id"`
	MaxDurationSeconds int    `json:"max_time"`
}

// Validate reports an InvalidResponse error if the server omitted fields
// required to open a stream or close the session.
func (d *SessionDescriptor) Validate() error {
	switch {
	case d.TaskID == "":
		return NewError(ErrorKindInvalidResponse, "session response is missing task_id")
	case d.SessionID == "":
		return NewError(ErrorKindInvalidResponse, "session response is missing session_id")
	case d.MaxDurationSeconds < 0:
		return NewError(ErrorKindInvalidResponse, "session response has negative max_time")
	}
	return nil
}

type SessionCloseResult struct {
	Status          string  `json:"status"`
	DurationSeconds *int    `json:"duration,omitempty"`
	ErrorCode       *int    `json:"error_code,omitempty"`
	Message         *string `json:"message,omitempty"`
}

type createSessionRequest struct {
	Model ModelType `json:"model"`
}

// inboundMessage is the envelope of every JSON text frame sent by the server.
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type resultData struct {
	Text string `json:"text"`
}

// apiErrorBody is the shape of non-2xx REST bodies.
type apiErrorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func (b apiErrorBody) text() string {
	if b.Message != "" {
		return b.Message
	}
	return b.Detail
}
