package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"gopkg.in/yaml.v3"
)

// TurnPrinterFunc returns a watermill handler that renders a turn's event
// stream as human-readable console output. TEXT events are streamed as
// deltas; tool arguments and results are rendered as YAML blocks.
func TurnPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventText:
			if isFirst && name != "" {
				isFirst = false
				_, err = fmt.Fprintf(w, "\n%s: \n", name)
				if err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(w, "%s", p_.Content)
			if err != nil {
				return err
			}

		case *EventSessionError:
			_, err = fmt.Fprintf(w, "\n[error] %s: %s\n", p_.Error.Code, p_.Error.Message)
			if err != nil {
				return err
			}

		case *EventToolArgsComplete:
			_, err = fmt.Fprintf(w, "\n→ %s\n", p_.ToolName)
			if err != nil {
				return err
			}
			if p_.Arguments != "" {
				v_, err := yaml.Marshal(p_.Arguments)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(w, "%s", v_)
				if err != nil {
					return err
				}
			}

		case *EventToolCallSuccess:
			v_, err := yaml.Marshal(p_.Result)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(w, "← %s\n%s", p_.ToolName, v_)
			if err != nil {
				return err
			}

		case *EventToolCallError:
			_, err = fmt.Fprintf(w, "✗ %s: %s\n", p_.ToolName, p_.Error)
			if err != nil {
				return err
			}

		case *EventToolCallTimeout:
			_, err = fmt.Fprintf(w, "⏱ %s timed out\n", p_.ToolName)
			if err != nil {
				return err
			}

		case *EventGenerationStop:
			_, err = fmt.Fprintf(w, "\n")
			if err != nil {
				return err
			}

		case *EventAbort:
			reason := p_.Reason
			if reason == "" {
				reason = "aborted"
			}
			if !strings.HasSuffix(reason, "\n") {
				reason += "\n"
			}
			_, err = fmt.Fprintf(w, "\n--- %s", reason)
			if err != nil {
				return err
			}

		case *EventSessionStart,
			*EventSessionEnd,
			*EventResponseWaiting,
			*EventToolArgsStart,
			*EventToolCallStart,
			*EventToolCallExecuting,
			*EventToolChainStart,
			*EventToolChainComplete,
			*EventDone:

		}

		return nil
	}
}
