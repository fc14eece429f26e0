package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// ErrDecode is wrapped by every error caused by a malformed message.
var ErrDecode = errors.New("protocol: decode failed")

// RequestKind identifies a worker-to-host message variant.
type RequestKind int

const (
	RequestTask RequestKind = iota + 1
	ReportResult
	Heartbeat
)

var requestTags = map[RequestKind]string{
	RequestTask:  "RequestTask",
	ReportResult: "ReportResult",
	Heartbeat:    "Heartbeat",
}

func (k RequestKind) String() string {
	if tag, ok := requestTags[k]; ok {
		return tag
	}
	return fmt.Sprintf("RequestKind(%d)", int(k))
}

// Request is a message sent by a worker. Result is only meaningful for
// ReportResult.
type Request struct {
	Kind     RequestKind
	WorkerID uuid.UUID
	Result   types.TaskResult
}

// NewRequestTask asks the host for work.
func NewRequestTask(workerID uuid.UUID) Request {
	return Request{Kind: RequestTask, WorkerID: workerID}
}

// NewReportResult delivers the result of an assigned task.
func NewReportResult(workerID uuid.UUID, result types.TaskResult) Request {
	return Request{Kind: ReportResult, WorkerID: workerID, Result: result}
}

// NewHeartbeat builds a liveness message.
func NewHeartbeat(workerID uuid.UUID) Request {
	return Request{Kind: Heartbeat, WorkerID: workerID}
}

type workerPayload struct {
	WorkerID uuid.UUID `json:"worker_id"`
}

type reportPayload struct {
	WorkerID uuid.UUID        `json:"worker_id"`
	Result   types.TaskResult `json:"result"`
}

// MarshalJSON implements json.Marshaler.
func (r Request) MarshalJSON() ([]byte, error) {
	tag, ok := requestTags[r.Kind]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown request kind %d", int(r.Kind))
	}
	var payload any
	if r.Kind == ReportResult {
		payload = reportPayload{WorkerID: r.WorkerID, Result: r.Result}
	} else {
		payload = workerPayload{WorkerID: r.WorkerID}
	}
	return sonic.Marshal(map[string]any{tag: payload})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Request) UnmarshalJSON(data []byte) error {
	tag, body, err := splitTagged(data)
	if err != nil {
		return err
	}
	if body == nil {
		return fmt.Errorf("%w: request %q carries no payload", ErrDecode, tag)
	}

	switch tag {
	case requestTags[RequestTask], requestTags[Heartbeat]:
		var p workerPayload
		if err := sonic.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDecode, tag, err)
		}
		kind := RequestTask
		if tag == requestTags[Heartbeat] {
			kind = Heartbeat
		}
		*r = Request{Kind: kind, WorkerID: p.WorkerID}
	case requestTags[ReportResult]:
		var p reportPayload
		if err := sonic.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDecode, tag, err)
		}
		*r = Request{Kind: ReportResult, WorkerID: p.WorkerID, Result: p.Result}
	default:
		return fmt.Errorf("%w: unknown request variant %q", ErrDecode, tag)
	}
	return nil
}

// ResponseKind identifies a host-to-worker message variant.
type ResponseKind int

const (
	AssignTask ResponseKind = iota + 1
	NoTaskAvailable
	Ack
	Command
)

var responseTags = map[ResponseKind]string{
	AssignTask:      "AssignTask",
	NoTaskAvailable: "NoTaskAvailable",
	Ack:             "Ack",
	Command:         "Command",
}

func (k ResponseKind) String() string {
	if tag, ok := responseTags[k]; ok {
		return tag
	}
	return fmt.Sprintf("ResponseKind(%d)", int(k))
}

// Response is a message sent by the host. Task is set for AssignTask,
// CommandType and Payload for Command.
type Response struct {
	Kind        ResponseKind
	Task        types.Task
	CommandType string
	Payload     string
}

// NewAssignTask hands a task to a worker.
func NewAssignTask(task types.Task) Response {
	return Response{Kind: AssignTask, Task: task}
}

// NewNoTaskAvailable tells the worker the pending queue is empty.
func NewNoTaskAvailable() Response { return Response{Kind: NoTaskAvailable} }

// NewAck acknowledges a report or heartbeat.
func NewAck() Response { return Response{Kind: Ack} }

// NewCommand builds a control message. The host never sends one today.
func NewCommand(commandType, payload string) Response {
	return Response{Kind: Command, CommandType: commandType, Payload: payload}
}

type assignPayload struct {
	Task types.Task `json:"task"`
}

type commandPayload struct {
	CommandType string `json:"command_type"`
	Payload     string `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
func (r Response) MarshalJSON() ([]byte, error) {
	tag, ok := responseTags[r.Kind]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown response kind %d", int(r.Kind))
	}
	switch r.Kind {
	case AssignTask:
		return sonic.Marshal(map[string]any{tag: assignPayload{Task: r.Task}})
	case Command:
		return sonic.Marshal(map[string]any{tag: commandPayload{CommandType: r.CommandType, Payload: r.Payload}})
	default:
		return sonic.Marshal(tag)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Response) UnmarshalJSON(data []byte) error {
	tag, body, err := splitTagged(data)
	if err != nil {
		return err
	}

	switch tag {
	case responseTags[NoTaskAvailable], responseTags[Ack]:
		if body != nil {
			return fmt.Errorf("%w: response %q takes no payload", ErrDecode, tag)
		}
		kind := Ack
		if tag == responseTags[NoTaskAvailable] {
			kind = NoTaskAvailable
		}
		*r = Response{Kind: kind}
	case responseTags[AssignTask]:
		if body == nil {
			return fmt.Errorf("%w: %s carries no payload", ErrDecode, tag)
		}
		var p assignPayload
		if err := sonic.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDecode, tag, err)
		}
		*r = Response{Kind: AssignTask, Task: p.Task}
	case responseTags[Command]:
		if body == nil {
			return fmt.Errorf("%w: %s carries no payload", ErrDecode, tag)
		}
		var p commandPayload
		if err := sonic.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDecode, tag, err)
		}
		*r = Response{Kind: Command, CommandType: p.CommandType, Payload: p.Payload}
	default:
		return fmt.Errorf("%w: unknown response variant %q", ErrDecode, tag)
	}
	return nil
}

// splitTagged separates an externally tagged value into its tag and body.
// A bare string yields a nil body.
func splitTagged(data []byte) (string, []byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty message", ErrDecode)
	}

	if data[0] == '"' {
		var tag string
		if err := sonic.Unmarshal(data, &tag); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return tag, nil, nil
	}

	var obj map[string]json.RawMessage
	if err := sonic.Unmarshal(data, &obj); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("%w: expected exactly one variant, got %d", ErrDecode, len(obj))
	}
	for tag, body := range obj {
		if len(body) == 0 || string(body) == "null" {
			return tag, nil, nil
		}
		return tag, body, nil
	}
	return "", nil, fmt.Errorf("%w: empty object", ErrDecode)
}
