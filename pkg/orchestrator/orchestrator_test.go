package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mangiafuoco/pkg/chat"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/providers"
	"github.com/go-go-golems/mangiafuoco/pkg/providers/openai"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// scriptedVendor plays one canned SSE transcript per request round and
// records every request body it receives.
type scriptedVendor struct {
	mu     sync.Mutex
	rounds []string
	bodies [][]byte
}

func newScriptedVendor(t *testing.T, rounds ...string) (*scriptedVendor, providers.Provider) {
	t.Helper()
	vendor := &scriptedVendor{rounds: rounds}
	server := httptest.NewServer(vendor)
	t.Cleanup(server.Close)

	provider := openai.New(&providers.Config{
		Provider: "openai",
		APIKey:   "test-key",
		Model:    "gpt-4o-mini",
		BaseURL:  server.URL + "/v1",
	})
	return vendor, provider
}

func (v *scriptedVendor) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	v.mu.Lock()
	v.bodies = append(v.bodies, body)
	idx := len(v.bodies) - 1
	v.mu.Unlock()

	if idx >= len(v.rounds) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error": {"message": "no scripted round left"}}`)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	_, _ = io.WriteString(w, v.rounds[idx])
}

func (v *scriptedVendor) requests() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([][]byte{}, v.bodies...)
}

func sseTextRound(text string) string {
	quoted, _ := json.Marshal(text)
	return strings.Join([]string{
		`data: {"id":"chatcmpl-text","object":"chat.completion.chunk","created":1735000000,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":` + string(quoted) + `},"finish_reason":null}]}`,
		``,
		`data: {"id":"chatcmpl-text","object":"chat.completion.chunk","created":1735000000,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")
}

// sseToolCallRound streams one call the way the API does: id and name on
// the first fragment, arguments on a later one.
func sseToolCallRound(callID string, name string, args string) string {
	quotedArgs, _ := json.Marshal(args)
	return strings.Join([]string{
		`data: {"id":"chatcmpl-tool","object":"chat.completion.chunk","created":1735000000,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"` + callID + `","type":"function","function":{"name":"` + name + `","arguments":""}}]},"finish_reason":null}]}`,
		``,
		`data: {"id":"chatcmpl-tool","object":"chat.completion.chunk","created":1735000000,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":` + string(quotedArgs) + `}}]},"finish_reason":null}]}`,
		``,
		`data: {"id":"chatcmpl-tool","object":"chat.completion.chunk","created":1735000000,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":40,"completion_tokens":15,"total_tokens":55}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")
}

func sseParallelToolRound(firstID string, firstName string, secondID string, secondName string) string {
	return strings.Join([]string{
		`data: {"id":"chatcmpl-par","object":"chat.completion.chunk","created":1735000000,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"` + firstID + `","type":"function","function":{"name":"` + firstName + `","arguments":"{}"}},{"index":1,"id":"` + secondID + `","type":"function","function":{"name":"` + secondName + `","arguments":"{}"}}]},"finish_reason":null}]}`,
		``,
		`data: {"id":"chatcmpl-par","object":"chat.completion.chunk","created":1735000000,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")
}

func eventTypes(evts []events.Event) []events.EventType {
	out := make([]events.EventType, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type())
	}
	return out
}

func countEvents(types []events.EventType, want events.EventType) int {
	n := 0
	for _, tt := range types {
		if tt == want {
			n++
		}
	}
	return n
}

func firstEvent[T events.Event](t *testing.T, evts []events.Event) T {
	t.Helper()
	for _, e := range evts {
		if typed, ok := e.(T); ok {
			return typed
		}
	}
	var zero T
	require.FailNowf(t, "event not found", "no %T among %d captured events", zero, len(evts))
	return zero
}

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

type probeArgs struct {
	Region string `json:"region,omitempty"`
}

func calculatorRouter(t *testing.T) *tools.Router {
	t.Helper()
	backend := tools.NewFuncBackend("calculator")
	require.NoError(t, backend.RegisterFunc("add", "Add two integers", func(in addArgs) (int, error) {
		return in.A + in.B, nil
	}))
	registry := tools.NewBackendRegistry()
	require.NoError(t, registry.Register(backend))
	return tools.NewRouter(registry)
}

func TestRunTurnStreamsTextToDone(t *testing.T) {
	_, provider := newScriptedVendor(t, sseTextRound("2"))

	var captured []events.Event
	o := New()
	msg, err := o.RunTurn(context.Background(), provider, []chat.Message{
		chat.NewUserMessage("What is 1 + 1? Answer with just the number."),
	}, nil, func(e events.Event) error {
		captured = append(captured, e)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, chat.RoleAssistant, msg.Role)
	assert.Equal(t, "2", msg.Content)

	require.Equal(t, []events.EventType{
		events.EventTypeSessionStart,
		events.EventTypeResponseWaiting,
		events.EventTypeText,
		events.EventTypeGenerationStop,
		events.EventTypeSessionEnd,
		events.EventTypeDone,
	}, eventTypes(captured))

	require.NotEmpty(t, captured[0].MessageID())
	for _, e := range captured {
		assert.Equal(t, captured[0].MessageID(), e.MessageID())
	}

	text := firstEvent[*events.EventText](t, captured)
	assert.Equal(t, "2", text.Content)

	stop := firstEvent[*events.EventGenerationStop](t, captured)
	assert.Equal(t, "stop", stop.StopReason)
	require.NotNil(t, stop.Usage)
	assert.Equal(t, 12, stop.Usage.InputTokens)
	assert.Equal(t, 4, stop.Usage.OutputTokens)

	done := firstEvent[*events.EventDone](t, captured)
	assert.Equal(t, "stop", done.Reason)
}

func TestRunTurnExecutesToolRoundTrip(t *testing.T) {
	vendor, provider := newScriptedVendor(t,
		sseToolCallRound("call_1", "add", `{"a":1,"b":1}`),
		sseTextRound("1 + 1 = 2."),
	)

	var captured []events.Event
	o := New(WithRouter(calculatorRouter(t)))
	msg, err := o.RunTurn(context.Background(), provider, []chat.Message{
		chat.NewUserMessage("Use the calculator to add 1 and 1."),
	}, nil, func(e events.Event) error {
		captured = append(captured, e)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "1 + 1 = 2.", msg.Content)

	require.Equal(t, []events.EventType{
		events.EventTypeSessionStart,
		events.EventTypeResponseWaiting,
		events.EventTypeToolArgsStart,
		events.EventTypeToolArgsComplete,
		events.EventTypeToolCallStart,
		events.EventTypeToolChainStart,
		events.EventTypeToolCallExec,
		events.EventTypeToolCallSuccess,
		events.EventTypeToolChainComplete,
		events.EventTypeResponseWaiting,
		events.EventTypeText,
		events.EventTypeGenerationStop,
		events.EventTypeSessionEnd,
		events.EventTypeDone,
	}, eventTypes(captured))

	argsComplete := firstEvent[*events.EventToolArgsComplete](t, captured)
	assert.Equal(t, "call_1", argsComplete.ToolCallID)
	assert.Equal(t, "add", argsComplete.ToolName)
	assert.Equal(t, `{"a":1,"b":1}`, argsComplete.Arguments)

	chainStart := firstEvent[*events.EventToolChainStart](t, captured)
	assert.Equal(t, []string{"call_1"}, chainStart.ToolCallIDs)
	chainComplete := firstEvent[*events.EventToolChainComplete](t, captured)
	assert.Equal(t, []string{"call_1"}, chainComplete.ToolCallIDs)

	success := firstEvent[*events.EventToolCallSuccess](t, captured)
	assert.Equal(t, "call_1", success.ToolCallID)
	assert.Equal(t, 2, success.Result)

	// Usage accumulates across both rounds.
	stop := firstEvent[*events.EventGenerationStop](t, captured)
	require.NotNil(t, stop.Usage)
	assert.Equal(t, 52, stop.Usage.InputTokens)
	assert.Equal(t, 19, stop.Usage.OutputTokens)

	requests := vendor.requests()
	require.Len(t, requests, 2)

	var first struct {
		Tools []struct {
			Type     string `json:"type"`
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(requests[0], &first))
	require.Len(t, first.Tools, 1)
	assert.Equal(t, "function", first.Tools[0].Type)
	assert.Equal(t, "add", first.Tools[0].Function.Name)

	// The second round replays the executed call as an assistant tool_calls
	// message followed by the tool result.
	var second struct {
		Messages []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(requests[1], &second))
	var toolMsg map[string]any
	for _, m := range second.Messages {
		if m["role"] == "tool" {
			toolMsg = m
			break
		}
	}
	require.NotNil(t, toolMsg, "no tool result message in second round")
	assert.Equal(t, "call_1", toolMsg["tool_call_id"])
	assert.Equal(t, "2", toolMsg["content"])
}

func TestRunTurnAbortCancelsExecutingTools(t *testing.T) {
	_, provider := newScriptedVendor(t,
		sseParallelToolRound("call_east", "probe_east", "call_west", "probe_west"),
	)

	started := make(chan struct{}, 2)
	probe := func(ctx context.Context, in probeArgs) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	}
	backend := tools.NewFuncBackend("diagnostics")
	require.NoError(t, backend.RegisterFunc("probe_east", "Probe the east region", probe))
	require.NoError(t, backend.RegisterFunc("probe_west", "Probe the west region", probe))
	registry := tools.NewBackendRegistry()
	require.NoError(t, registry.Register(backend))

	o := New(WithRouter(tools.NewRouter(registry)))

	idCh := make(chan string, 1)
	var captured []events.Event
	onEvent := func(e events.Event) error {
		captured = append(captured, e)
		select {
		case idCh <- e.MessageID():
		default:
		}
		return nil
	}

	go func() {
		id := <-idCh
		<-started
		<-started
		o.Abort(id)
	}()

	msg, err := o.RunTurn(context.Background(), provider, []chat.Message{
		chat.NewUserMessage("Probe both regions."),
	}, nil, onEvent)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, msg)

	types := eventTypes(captured)
	require.NotEmpty(t, types)
	assert.Equal(t, events.EventTypeAbort, types[len(types)-1])
	assert.Equal(t, 1, countEvents(types, events.EventTypeResponseWaiting))
	assert.Equal(t, 2, countEvents(types, events.EventTypeToolCallExec))
	assert.Zero(t, countEvents(types, events.EventTypeToolChainComplete))
	assert.Zero(t, countEvents(types, events.EventTypeToolCallSuccess))
	assert.Zero(t, countEvents(types, events.EventTypeSessionEnd))

	abort := firstEvent[*events.EventAbort](t, captured)
	assert.Equal(t, "canceled", abort.Reason)
}

func TestRunTurnVendorErrorEndsSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error": {"message": "Rate limit reached for gpt-4o-mini", "type": "rate_limit_error"}}`)
	}))
	t.Cleanup(server.Close)
	provider := openai.New(&providers.Config{
		Provider: "openai",
		APIKey:   "test-key",
		Model:    "gpt-4o-mini",
		BaseURL:  server.URL + "/v1",
	})

	var captured []events.Event
	o := New()
	msg, err := o.RunTurn(context.Background(), provider, []chat.Message{
		chat.NewUserMessage("hello"),
	}, nil, func(e events.Event) error {
		captured = append(captured, e)
		return nil
	})
	require.Error(t, err)
	assert.Nil(t, msg)
	assert.Contains(t, err.Error(), "HTTP 429")

	require.Equal(t, []events.EventType{
		events.EventTypeSessionStart,
		events.EventTypeResponseWaiting,
		events.EventTypeSessionError,
	}, eventTypes(captured))

	sessionErr := firstEvent[*events.EventSessionError](t, captured)
	assert.Equal(t, events.ErrorCodeVendor, sessionErr.Error.Code)
	assert.Contains(t, sessionErr.Error.Message, "rate_limit_error: Rate limit reached for gpt-4o-mini")
}

func TestRunTurnMaxRoundsGuard(t *testing.T) {
	_, provider := newScriptedVendor(t,
		sseToolCallRound("call_1", "add", `{"a":1,"b":1}`),
		sseToolCallRound("call_2", "add", `{"a":2,"b":2}`),
	)

	var captured []events.Event
	o := New(WithRouter(calculatorRouter(t)), WithMaxRounds(2))
	msg, err := o.RunTurn(context.Background(), provider, []chat.Message{
		chat.NewUserMessage("Keep adding."),
	}, nil, func(e events.Event) error {
		captured = append(captured, e)
		return nil
	})
	require.Error(t, err)
	assert.Nil(t, msg)
	assert.Contains(t, err.Error(), "max rounds (2) reached")

	types := eventTypes(captured)
	assert.Equal(t, 2, countEvents(types, events.EventTypeResponseWaiting))
	assert.Equal(t, 2, countEvents(types, events.EventTypeToolChainComplete))
	assert.Equal(t, events.EventTypeSessionError, types[len(types)-1])

	sessionErr := firstEvent[*events.EventSessionError](t, captured)
	assert.Equal(t, events.ErrorCodeMaxRounds, sessionErr.Error.Code)
}

func TestRunTurnToolTimeoutFoldsError(t *testing.T) {
	vendor, provider := newScriptedVendor(t,
		sseToolCallRound("call_slow", "slow_probe", `{}`),
		sseTextRound("The probe did not respond in time."),
	)

	backend := tools.NewFuncBackend("diagnostics")
	require.NoError(t, backend.RegisterFunc("slow_probe", "Probe that waits forever", func(ctx context.Context, in probeArgs) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))
	registry := tools.NewBackendRegistry()
	require.NoError(t, registry.Register(backend))

	var captured []events.Event
	o := New(WithRouter(tools.NewRouter(registry)), WithToolTimeout(50*time.Millisecond))
	msg, err := o.RunTurn(context.Background(), provider, []chat.Message{
		chat.NewUserMessage("Run the slow probe."),
	}, nil, func(e events.Event) error {
		captured = append(captured, e)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "The probe did not respond in time.", msg.Content)

	types := eventTypes(captured)
	assert.Equal(t, 1, countEvents(types, events.EventTypeToolCallTimeout))
	assert.Zero(t, countEvents(types, events.EventTypeToolCallSuccess))
	assert.Equal(t, 1, countEvents(types, events.EventTypeToolChainComplete))

	timeout := firstEvent[*events.EventToolCallTimeout](t, captured)
	assert.Equal(t, "call_slow", timeout.ToolCallID)

	// The model sees the timeout as the tool's result text.
	requests := vendor.requests()
	require.Len(t, requests, 2)
	assert.Contains(t, string(requests[1]), "tool execution timed out")
}

func TestRunTurnWithoutRouterFailsCalls(t *testing.T) {
	vendor, provider := newScriptedVendor(t,
		sseToolCallRound("call_1", "add", `{"a":1,"b":1}`),
		sseTextRound("I cannot run tools right now."),
	)

	var captured []events.Event
	o := New()
	msg, err := o.RunTurn(context.Background(), provider, []chat.Message{
		chat.NewUserMessage("Add 1 and 1."),
	}, nil, func(e events.Event) error {
		captured = append(captured, e)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "I cannot run tools right now.", msg.Content)

	types := eventTypes(captured)
	assert.Equal(t, 1, countEvents(types, events.EventTypeToolCallError))
	assert.Zero(t, countEvents(types, events.EventTypeToolCallSuccess))

	requests := vendor.requests()
	require.Len(t, requests, 2)
	assert.Contains(t, string(requests[1]), "no tool router configured")
}

func TestRunTurnRequiresProvider(t *testing.T) {
	o := New()
	msg, err := o.RunTurn(context.Background(), nil, nil, nil, nil)
	require.Error(t, err)
	assert.Nil(t, msg)
}

func TestAbortUnknownTurn(t *testing.T) {
	o := New()
	assert.False(t, o.Abort("not-a-live-turn"))
}
