package comfyui

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
)

// Event types on the engine's event stream that the monitor acts on.
const (
	EventExecuting            = "executing"
	EventProgress             = "progress"
	EventExecutionSuccess     = "execution_success"
	EventExecutionError       = "execution_error"
	EventExecutionInterrupted = "execution_interrupted"
)

var eventTypes = []string{
	EventExecuting,
	EventProgress,
	EventExecutionSuccess,
	EventExecutionError,
	EventExecutionInterrupted,
}

const unknownErrorMessage = "Unknown error occurred"

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	Prompt   backend.Graph `json:"prompt"`
	ClientID string        `json:"client_id"`
}

// Event is a message on the engine's event stream.
type Event struct {
	Type string     `json:"type"`
	Data *EventData `json:"data"`
}

// EventData carries the payload of every event type the monitor handles.
// Fields not used by a given type are left zero.
type EventData struct {
	PromptID string `json:"prompt_id"`

	// Node is the unit label for executing and progress events. The engine
	// sends null once a prompt has no more nodes to run.
	Node string `json:"node"`

	Value *float64 `json:"value"`
	Max   *float64 `json:"max"`

	Error            json.RawMessage `json:"error"`
	ExceptionMessage string          `json:"exception_message"`
}

var errIncompleteEvent = errors.New("event missing type or data")

// DecodeEvent parses one text message from the event stream. Messages
// without a type or data object are reported as errIncompleteEvent.
func DecodeEvent(msg []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" || ev.Data == nil {
		return Event{}, errIncompleteEvent
	}
	return ev, nil
}

// ErrorMessage returns the engine's description of an execution error.
func (d *EventData) ErrorMessage() string {
	if raw := bytes.TrimSpace(d.Error); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
		} else {
			return string(raw)
		}
	}
	if d.ExceptionMessage != "" {
		return d.ExceptionMessage
	}
	return unknownErrorMessage
}

// ParsePromptResponse extracts the prompt id from a /prompt response body.
// Empty bodies, bodies without a prompt_id and bodies carrying an error
// field are rejections.
func ParsePromptResponse(body []byte) (string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", fmt.Errorf("%w: empty response", backend.ErrSubmissionRejected)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", backend.ErrSubmissionRejected, err)
	}
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty response", backend.ErrSubmissionRejected)
	}

	raw, ok := fields["prompt_id"]
	if !ok {
		return "", fmt.Errorf("%w: no prompt_id in response", backend.ErrSubmissionRejected)
	}
	if engineErr, ok := fields["error"]; ok {
		return "", fmt.Errorf("%w: engine error: %s", backend.ErrSubmissionRejected, engineErr)
	}

	var promptID string
	if err := json.Unmarshal(raw, &promptID); err != nil || promptID == "" {
		return "", fmt.Errorf("%w: invalid prompt_id %s", backend.ErrSubmissionRejected, raw)
	}
	return promptID, nil
}
