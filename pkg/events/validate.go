package events

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidEvent is the sentinel wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// ValidateEvent checks event invariants at publish boundaries. It is the
// contract surface for any event producer: a producer whose events pass
// here emits well-formed wire payloads for every consumer.
func ValidateEvent(event Event) error {
	if event == nil {
		return fmt.Errorf("%w: event is nil", ErrInvalidEvent)
	}
	if !IsKnownEventType(event.Type()) {
		return fmt.Errorf("%w: field=type reason=unknown value=%q", ErrInvalidEvent, event.Type())
	}
	if event.MessageID() == "" {
		return fmt.Errorf("%w: field=messageId reason=empty type=%s", ErrInvalidEvent, event.Type())
	}
	if event.Timestamp().IsZero() {
		return fmt.Errorf("%w: field=timestamp reason=zero type=%s", ErrInvalidEvent, event.Type())
	}

	switch e := event.(type) {
	case *EventText:
		if e.Content == "" {
			return invalidField(event, "content", "empty")
		}
	case *EventSessionError:
		if e.Error.Message == "" {
			return invalidField(event, "error.message", "empty")
		}
	case *EventToolArgsStart:
		return validateToolRef(event, e.ToolRef)
	case *EventToolArgsComplete:
		return validateToolRef(event, e.ToolRef)
	case *EventToolCallStart:
		return validateToolRef(event, e.ToolRef)
	case *EventToolCallExecuting:
		return validateToolRef(event, e.ToolRef)
	case *EventToolCallSuccess:
		return validateToolRef(event, e.ToolRef)
	case *EventToolCallError:
		if err := validateToolRef(event, e.ToolRef); err != nil {
			return err
		}
		if e.Error == "" {
			return invalidField(event, "error", "empty")
		}
	case *EventToolCallTimeout:
		return validateToolRef(event, e.ToolRef)
	case *EventToolChainStart:
		if len(e.ToolCallIDs) == 0 {
			return invalidField(event, "toolCallIds", "empty")
		}
	case *EventToolChainComplete:
		if len(e.ToolCallIDs) == 0 {
			return invalidField(event, "toolCallIds", "empty")
		}
	case *EventImpl:
		// a bare EventImpl is never a valid wire event for typed kinds
		switch e.Type_ {
		case EventTypeSessionStart, EventTypeSessionEnd, EventTypeResponseWaiting,
			EventTypeGenerationStop, EventTypeAbort, EventTypeDone:
			// payload-free kinds are fine
		default:
			return fmt.Errorf("%w: field=payload reason=missing type=%s", ErrInvalidEvent, e.Type_)
		}
	}

	return nil
}

func validateToolRef(event Event, ref ToolRef) error {
	if ref.ToolCallID == "" {
		return invalidField(event, "toolCallId", "empty")
	}
	if ref.ToolName == "" {
		return invalidField(event, "toolName", "empty")
	}
	return nil
}

func invalidField(event Event, field string, reason string) error {
	return fmt.Errorf(
		"%w: field=%s reason=%s type=%s message_id=%q",
		ErrInvalidEvent, field, reason, event.Type(), event.MessageID(),
	)
}
