package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// EventType tags every event emitted during a turn. The set is closed: the
// validator rejects anything outside it, and NewEventFromJson refuses to
// decode unknown types. The string values are the wire contract consumed by
// UI clients, so they never change.
type EventType string

const (
	// Session lifecycle
	EventTypeSessionStart EventType = "SESSION_START"
	EventTypeSessionEnd   EventType = "SESSION_END"
	EventTypeSessionError EventType = "SESSION_ERROR"

	// Model lifecycle
	EventTypeResponseWaiting EventType = "MODEL_RESPONSE_WAITING"
	EventTypeGenerationStop  EventType = "MODEL_GENERATION_STOP"

	// Content
	EventTypeText EventType = "TEXT"

	// Tool lifecycle
	EventTypeToolArgsStart    EventType = "TOOL_ARGS_START"
	EventTypeToolArgsComplete EventType = "TOOL_ARGS_COMPLETE"
	EventTypeToolCallStart    EventType = "MCP_TOOL_START"
	EventTypeToolCallExec     EventType = "MCP_TOOL_EXECUTING"
	EventTypeToolCallSuccess  EventType = "MCP_TOOL_SUCCESS"
	EventTypeToolCallError    EventType = "MCP_TOOL_ERROR"
	EventTypeToolCallTimeout  EventType = "MCP_TOOL_TIMEOUT"

	// Tool chain
	EventTypeToolChainStart    EventType = "TOOL_CHAIN_START"
	EventTypeToolChainComplete EventType = "TOOL_CHAIN_COMPLETE"

	// Control
	EventTypeAbort EventType = "ABORT"
	EventTypeDone  EventType = "DONE"
)

// KnownEventTypes returns the closed set of event types.
func KnownEventTypes() []EventType {
	return []EventType{
		EventTypeSessionStart, EventTypeSessionEnd, EventTypeSessionError,
		EventTypeResponseWaiting, EventTypeGenerationStop,
		EventTypeText,
		EventTypeToolArgsStart, EventTypeToolArgsComplete,
		EventTypeToolCallStart, EventTypeToolCallExec, EventTypeToolCallSuccess,
		EventTypeToolCallError, EventTypeToolCallTimeout,
		EventTypeToolChainStart, EventTypeToolChainComplete,
		EventTypeAbort, EventTypeDone,
	}
}

var knownEventTypes = func() map[EventType]struct{} {
	m := map[EventType]struct{}{}
	for _, t := range KnownEventTypes() {
		m[t] = struct{}{}
	}
	return m
}()

// IsKnownEventType reports whether t belongs to the closed set.
func IsKnownEventType(t EventType) bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Event is one immutable lifecycle notification of a turn. Events are
// ordered by emission time within a turn; consumers never mutate them.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	MessageID() string
	Payload() []byte
}

// EventImpl carries the fields every event shares.
type EventImpl struct {
	Type_      EventType `json:"type"`
	Timestamp_ time.Time `json:"timestamp"`
	MessageID_ string    `json:"messageId"`

	// raw JSON as received, set by NewEventFromJson and used by ToTypedEvent
	payload []byte
}

func newEventImpl(t EventType, messageID string) EventImpl {
	return EventImpl{
		Type_:      t,
		Timestamp_: time.Now(),
		MessageID_: messageID,
	}
}

func (e *EventImpl) Type() EventType      { return e.Type_ }
func (e *EventImpl) Timestamp() time.Time { return e.Timestamp_ }
func (e *EventImpl) MessageID() string    { return e.MessageID_ }
func (e *EventImpl) Payload() []byte      { return e.payload }

// SetPayload stores the raw JSON the event was decoded from.
func (e *EventImpl) SetPayload(b []byte) { e.payload = b }

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_)).
		Str("message_id", e.MessageID_).
		Time("timestamp", e.Timestamp_)
}

var _ Event = &EventImpl{}

// ToolRef identifies the tool invocation an event belongs to. Embedded in
// every tool-phase event.
type ToolRef struct {
	ToolCallID       string `json:"toolCallId"`
	ToolName         string `json:"toolName"`
	ParentToolCallID string `json:"parentToolCallId,omitempty"`
}

type EventSessionStart struct {
	EventImpl
}

func NewSessionStartEvent(messageID string) *EventSessionStart {
	return &EventSessionStart{EventImpl: newEventImpl(EventTypeSessionStart, messageID)}
}

type EventSessionEnd struct {
	EventImpl
}

func NewSessionEndEvent(messageID string) *EventSessionEnd {
	return &EventSessionEnd{EventImpl: newEventImpl(EventTypeSessionEnd, messageID)}
}

type EventSessionError struct {
	EventImpl
	Error ErrorPayload `json:"error"`
}

func NewSessionErrorEvent(messageID string, payload ErrorPayload) *EventSessionError {
	return &EventSessionError{
		EventImpl: newEventImpl(EventTypeSessionError, messageID),
		Error:     payload,
	}
}

func (e *EventSessionError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("code", e.Error.Code).Str("error", e.Error.Message)
}

type EventResponseWaiting struct {
	EventImpl
}

func NewResponseWaitingEvent(messageID string) *EventResponseWaiting {
	return &EventResponseWaiting{EventImpl: newEventImpl(EventTypeResponseWaiting, messageID)}
}

type EventGenerationStop struct {
	EventImpl
	StopReason string `json:"stopReason,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
}

func NewGenerationStopEvent(messageID string, stopReason string, usage *Usage) *EventGenerationStop {
	return &EventGenerationStop{
		EventImpl:  newEventImpl(EventTypeGenerationStop, messageID),
		StopReason: stopReason,
		Usage:      usage,
	}
}

type EventText struct {
	EventImpl
	Content string `json:"content"`
}

func NewTextEvent(messageID string, content string) *EventText {
	return &EventText{
		EventImpl: newEventImpl(EventTypeText, messageID),
		Content:   content,
	}
}

func (e *EventText) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("content_length", len(e.Content))
}

type EventToolArgsStart struct {
	EventImpl
	ToolRef
}

func NewToolArgsStartEvent(messageID string, ref ToolRef) *EventToolArgsStart {
	return &EventToolArgsStart{EventImpl: newEventImpl(EventTypeToolArgsStart, messageID), ToolRef: ref}
}

type EventToolArgsComplete struct {
	EventImpl
	ToolRef
	Arguments string `json:"arguments,omitempty"`
}

func NewToolArgsCompleteEvent(messageID string, ref ToolRef, arguments string) *EventToolArgsComplete {
	return &EventToolArgsComplete{
		EventImpl: newEventImpl(EventTypeToolArgsComplete, messageID),
		ToolRef:   ref,
		Arguments: arguments,
	}
}

type EventToolCallStart struct {
	EventImpl
	ToolRef
}

func NewToolCallStartEvent(messageID string, ref ToolRef) *EventToolCallStart {
	return &EventToolCallStart{EventImpl: newEventImpl(EventTypeToolCallStart, messageID), ToolRef: ref}
}

type EventToolCallExecuting struct {
	EventImpl
	ToolRef
	Progress string `json:"progress,omitempty"`
}

func NewToolCallExecutingEvent(messageID string, ref ToolRef, progress string) *EventToolCallExecuting {
	return &EventToolCallExecuting{
		EventImpl: newEventImpl(EventTypeToolCallExec, messageID),
		ToolRef:   ref,
		Progress:  progress,
	}
}

type EventToolCallSuccess struct {
	EventImpl
	ToolRef
	Result any `json:"result"`
}

func NewToolCallSuccessEvent(messageID string, ref ToolRef, result any) *EventToolCallSuccess {
	return &EventToolCallSuccess{
		EventImpl: newEventImpl(EventTypeToolCallSuccess, messageID),
		ToolRef:   ref,
		Result:    result,
	}
}

type EventToolCallError struct {
	EventImpl
	ToolRef
	Error string `json:"error"`
}

func NewToolCallErrorEvent(messageID string, ref ToolRef, errMsg string) *EventToolCallError {
	return &EventToolCallError{
		EventImpl: newEventImpl(EventTypeToolCallError, messageID),
		ToolRef:   ref,
		Error:     errMsg,
	}
}

func (e *EventToolCallError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("tool_call_id", e.ToolCallID).Str("tool_name", e.ToolName).Str("error", e.Error)
}

type EventToolCallTimeout struct {
	EventImpl
	ToolRef
}

func NewToolCallTimeoutEvent(messageID string, ref ToolRef) *EventToolCallTimeout {
	return &EventToolCallTimeout{EventImpl: newEventImpl(EventTypeToolCallTimeout, messageID), ToolRef: ref}
}

type EventToolChainStart struct {
	EventImpl
	ToolCallIDs []string `json:"toolCallIds"`
}

func NewToolChainStartEvent(messageID string, toolCallIDs []string) *EventToolChainStart {
	return &EventToolChainStart{
		EventImpl:   newEventImpl(EventTypeToolChainStart, messageID),
		ToolCallIDs: toolCallIDs,
	}
}

type EventToolChainComplete struct {
	EventImpl
	ToolCallIDs []string `json:"toolCallIds"`
}

func NewToolChainCompleteEvent(messageID string, toolCallIDs []string) *EventToolChainComplete {
	return &EventToolChainComplete{
		EventImpl:   newEventImpl(EventTypeToolChainComplete, messageID),
		ToolCallIDs: toolCallIDs,
	}
}

type EventAbort struct {
	EventImpl
	Reason string `json:"reason,omitempty"`
}

func NewAbortEvent(messageID string, reason string) *EventAbort {
	return &EventAbort{EventImpl: newEventImpl(EventTypeAbort, messageID), Reason: reason}
}

type EventDone struct {
	EventImpl
	Reason string `json:"reason,omitempty"`
}

func NewDoneEvent(messageID string, reason string) *EventDone {
	return &EventDone{EventImpl: newEventImpl(EventTypeDone, messageID), Reason: reason}
}

// NewEventFromJson decodes a serialized event back into its typed form.
// The raw payload is retained on the event for ToTypedEvent.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	e.payload = b

	switch e.Type_ {
	case EventTypeSessionStart:
		return decodeTyped[EventSessionStart](e)
	case EventTypeSessionEnd:
		return decodeTyped[EventSessionEnd](e)
	case EventTypeSessionError:
		return decodeTyped[EventSessionError](e)
	case EventTypeResponseWaiting:
		return decodeTyped[EventResponseWaiting](e)
	case EventTypeGenerationStop:
		return decodeTyped[EventGenerationStop](e)
	case EventTypeText:
		return decodeTyped[EventText](e)
	case EventTypeToolArgsStart:
		return decodeTyped[EventToolArgsStart](e)
	case EventTypeToolArgsComplete:
		return decodeTyped[EventToolArgsComplete](e)
	case EventTypeToolCallStart:
		return decodeTyped[EventToolCallStart](e)
	case EventTypeToolCallExec:
		return decodeTyped[EventToolCallExecuting](e)
	case EventTypeToolCallSuccess:
		return decodeTyped[EventToolCallSuccess](e)
	case EventTypeToolCallError:
		return decodeTyped[EventToolCallError](e)
	case EventTypeToolCallTimeout:
		return decodeTyped[EventToolCallTimeout](e)
	case EventTypeToolChainStart:
		return decodeTyped[EventToolChainStart](e)
	case EventTypeToolChainComplete:
		return decodeTyped[EventToolChainComplete](e)
	case EventTypeAbort:
		return decodeTyped[EventAbort](e)
	case EventTypeDone:
		return decodeTyped[EventDone](e)
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type_)
	}
}

func decodeTyped[T any](e *EventImpl) (Event, error) {
	ret, ok := ToTypedEvent[T](e)
	if !ok {
		var zero T
		return nil, fmt.Errorf("could not decode event into %T", zero)
	}
	ev, ok := any(ret).(Event)
	if !ok {
		var zero T
		return nil, fmt.Errorf("%T does not implement Event", zero)
	}
	if setter, ok := any(ret).(interface{ SetPayload([]byte) }); ok {
		setter.SetPayload(e.payload)
	}
	return ev, nil
}

// ToTypedEvent re-decodes an event's raw payload into a concrete event
// type. It only works on events that came through NewEventFromJson.
func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	if err := json.Unmarshal(e.Payload(), &ret); err != nil {
		return nil, false
	}
	return ret, true
}
