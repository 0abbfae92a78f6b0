package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/AltairaLabs/rtsession/pkg/errors"
	"github.com/AltairaLabs/rtsession/pkg/testutil"
	"github.com/AltairaLabs/rtsession/runtime/events"
	"github.com/AltairaLabs/rtsession/runtime/media"
	"github.com/AltairaLabs/rtsession/runtime/tools"
)

type routerFixture struct {
	conv     *Conversation
	registry *tools.Registry
	sender   *recordingSender
	router   *Router
	bus      *events.EventBus
}

func newRouterFixture(t *testing.T, opts ...RouterOption) *routerFixture {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	emitter := events.NewEmitter(bus, "sess_test")
	f := &routerFixture{
		conv:     NewConversation(emitter),
		registry: tools.NewRegistry(),
		sender:   &recordingSender{},
		bus:      bus,
	}
	opts = append([]RouterOption{WithEmitter(emitter)}, opts...)
	f.router = NewRouter(f.conv, f.registry, NewOutbox(f.sender), opts...)
	return f
}

func (f *routerFixture) handle(t *testing.T, msgs ...string) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, f.router.Handle(context.Background(), []byte(m)))
	}
}

func TestRouter_EndToEndTextTurn(t *testing.T) {
	f := newRouterFixture(t)
	f.conv.AddUserText("hi")

	f.handle(t,
		`{"type":"response.created","response":{"id":"r1"}}`,
		`{"type":"response.text.delta","item_id":"i1","delta":"He"}`,
		`{"type":"response.text.delta","item_id":"i1","delta":"llo"}`,
		`{"type":"response.text.done","item_id":"i1","text":"Hello"}`,
		`{"type":"response.done","response":{"id":"r1","status":"completed"}}`,
	)

	msgs := f.conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].IsFinal)
	assert.Equal(t, "Hello", msgs[1].Text)
}

func TestRouter_TranscriptStreamAndLateCorrection(t *testing.T) {
	f := newRouterFixture(t)
	f.handle(t,
		`{"type":"response.audio_transcript.delta","item_id":"i1","delta":"Hel"}`,
		`{"type":"response.audio_transcript.delta","item_id":"i1","delta":"lo"}`,
		`{"type":"response.audio_transcript.done","item_id":"i1","transcript":"Hello!"}`,
	)
	msgs := f.conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello!", msgs[0].Text)
	assert.True(t, msgs[0].IsFinal)
}

func TestRouter_ResponseDoneFinalizesOpenMessage(t *testing.T) {
	f := newRouterFixture(t)
	f.handle(t,
		`{"type":"response.text.delta","item_id":"i1","delta":"partial"}`,
		`{"type":"response.done","response":{"id":"r1","status":"cancelled"}}`,
	)
	msgs := f.conv.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsFinal)
	assert.Equal(t, "partial", msgs[0].Text)
}

func TestRouter_UserSpeechEvents(t *testing.T) {
	f := newRouterFixture(t)
	f.handle(t, `{"type":"input_audio_buffer.speech_started","item_id":"u1"}`)
	_, user := f.conv.Open()
	require.NotNil(t, user)
	assert.Equal(t, StatusSpeaking, user.Status)

	f.handle(t, `{"type":"input_audio_buffer.speech_stopped","item_id":"u1"}`)
	_, user = f.conv.Open()
	require.NotNil(t, user)
	assert.Equal(t, StatusProcessing, user.Status)

	f.handle(t, `{"type":"conversation.item.input_audio_transcription.completed","item_id":"u1","transcript":"book a table"}`)
	_, user = f.conv.Open()
	assert.Nil(t, user)
	msgs := f.conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "book a table", msgs[0].Text)
	assert.True(t, msgs[0].IsFinal)
}

func TestRouter_ToolCallRoundTrip(t *testing.T) {
	f := newRouterFixture(t)
	var gotArgs atomic.Value
	require.NoError(t, f.registry.Register("get_weather", func(_ context.Context, args json.RawMessage) (any, error) {
		gotArgs.Store(string(args))
		return map[string]any{"temp_c": 21}, nil
	}))

	var log testutil.EventLog
	f.bus.SubscribeAll(log.Record)

	f.handle(t, `{"type":"response.function_call_arguments.done","call_id":"call_1","name":"get_weather","arguments":"{\"city\":\"Oslo\"}"}`)
	f.router.Wait()
	f.bus.Flush()

	assert.Equal(t, `{"city":"Oslo"}`, gotArgs.Load())
	require.Equal(t, []string{TypeItemCreate, TypeResponseCreate}, f.sender.types())

	var item ItemCreate
	require.NoError(t, json.Unmarshal(f.sender.at(0), &item))
	assert.Equal(t, ItemFunctionCallOutput, item.Item.Type)
	assert.Equal(t, "call_1", item.Item.CallID)
	assert.JSONEq(t, `{"temp_c":21}`, item.Item.Output)
	assert.Equal(t, []events.EventType{events.EventToolCallStarted, events.EventToolCallCompleted},
		log.Types(events.EventToolCallStarted, events.EventToolCallCompleted))
	assert.Zero(t, f.conv.Len())
}

func TestRouter_ToolErrorIsReportedAsOutput(t *testing.T) {
	f := newRouterFixture(t)
	require.NoError(t, f.registry.Register("book", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("no tables left")
	}))

	f.handle(t, `{"type":"response.function_call_arguments.done","call_id":"call_2","name":"book","arguments":"{}"}`)
	f.router.Wait()

	require.Equal(t, []string{TypeItemCreate, TypeResponseCreate}, f.sender.types())
	var item ItemCreate
	require.NoError(t, json.Unmarshal(f.sender.at(0), &item))
	assert.Contains(t, item.Item.Output, "no tables left")
}

func TestRouter_UnknownToolIsNoOp(t *testing.T) {
	f := newRouterFixture(t)
	f.conv.AddUserText("hi")
	before := f.conv.Messages()

	f.handle(t, `{"type":"response.function_call_arguments.done","call_id":"call_3","name":"launch_rockets","arguments":"{}"}`)
	f.router.Wait()

	assert.Empty(t, f.sender.types())
	assert.Equal(t, before, f.conv.Messages())
}

func TestRouter_MalformedMessagesDoNotStopProcessing(t *testing.T) {
	f := newRouterFixture(t)
	var parseErrors atomic.Int32
	f.bus.Subscribe(events.EventParseError, func(*events.Event) { parseErrors.Add(1) })

	err := f.router.Handle(context.Background(), []byte(`{"type":"response.text.delta","delta":`))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindProtocolParse))

	f.handle(t,
		`{"type":"something.new","payload":1}`,
		`{"type":"response.text.delta","item_id":"i1","delta":"still alive"}`,
	)
	f.bus.Flush()

	assert.Equal(t, int32(1), parseErrors.Load())
	msgs := f.conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "still alive", msgs[0].Text)
}

func TestRouter_ServerErrorIsPublished(t *testing.T) {
	f := newRouterFixture(t)
	var got events.ServerErrorData
	f.bus.Subscribe(events.EventServerError, func(e *events.Event) {
		got = e.Data.(events.ServerErrorData)
	})
	f.handle(t, `{"type":"error","error":{"type":"invalid_request_error","code":"bad_item","message":"Item not found"}}`)
	f.bus.Flush()
	assert.Equal(t, "bad_item", got.Code)
	assert.Equal(t, "Item not found", got.Message)
}

func TestRouter_AudioDeltaGoesToHandler(t *testing.T) {
	var received []int16
	f := newRouterFixture(t, WithAudioHandler(func(samples []int16) {
		received = append(received, samples...)
	}))
	pcm := media.Int16ToBytes([]int16{100, -100, 2000})
	msg := `{"type":"response.audio.delta","item_id":"i1","delta":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`

	f.handle(t, msg, `{"type":"response.audio.delta","delta":"!!notbase64"}`)
	assert.Equal(t, []int16{100, -100, 2000}, received)
	assert.Zero(t, f.conv.Len())
}
