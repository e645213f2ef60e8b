package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/executor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type backend struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	received chan []byte
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{
		conns:    make(chan *websocket.Conn, 1),
		received: make(chan []byte, 256),
	}
	up := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		b.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.received <- data
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *backend) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("backend never saw a connection")
		return nil
	}
}

func (b *backend) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-b.received:
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("backend received nothing")
		return nil
	}
}

func dial(t *testing.T, b *backend, h Handlers) *Client {
	t.Helper()
	c, err := Dial(context.Background(), b.url(), h, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSendStructure(t *testing.T) {
	b := newBackend(t)
	c := dial(t, b, Handlers{})

	fields := []crawler.Field{{ID: "motivo-consulta", UniqueKey: "motivo-consulta", Label: "Motivo", Type: crawler.TypeTextarea}}
	require.NoError(t, c.SendStructure(context.Background(), fields, map[string]string{"od-cc": "20/20"}))

	msg := b.next(t)
	assert.Equal(t, TypeFormStructure, msg["type"])
	assert.Equal(t, map[string]any{"od-cc": "20/20"}, msg["already_filled"])
	got := msg["fields"].([]any)
	require.Len(t, got, 1)
	assert.Equal(t, "motivo-consulta", got[0].(map[string]any)["data_testid"])
	assert.Equal(t, "textarea", got[0].(map[string]any)["field_type"])
}

func TestSendStructureEmpty(t *testing.T) {
	b := newBackend(t)
	c := dial(t, b, Handlers{})

	require.NoError(t, c.SendStructure(context.Background(), nil, nil))
	msg := b.next(t)
	assert.Equal(t, []any{}, msg["fields"])
	assert.Equal(t, map[string]any{}, msg["already_filled"])
}

func TestAudioThenEndStreamInOrder(t *testing.T) {
	b := newBackend(t)
	c := dial(t, b, Handlers{})

	frame := []byte{0x00, 0x80, 0xff, 0x7f}
	require.True(t, c.SendAudio(frame))
	require.NoError(t, c.EndStream(context.Background()))

	audio := b.next(t)
	assert.Equal(t, TypeAudioChunk, audio["type"])
	decoded, err := base64.StdEncoding.DecodeString(audio["data"].(string))
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)

	assert.Equal(t, TypeEndStream, b.next(t)["type"])
}

func TestInboundDispatch(t *testing.T) {
	b := newBackend(t)

	var mu sync.Mutex
	var log []string
	add := func(s string) {
		mu.Lock()
		log = append(log, s)
		mu.Unlock()
	}
	var items [][]executor.Item
	done := make(chan struct{})

	dial(t, b, Handlers{
		OnPartialTranscription: func(text string, final bool) { add("partial:" + text) },
		OnFinalSegment:         func(text string) { add("final:" + text) },
		OnTranscription:        func(text string) { add("full:" + text) },
		OnAutofill: func(it []executor.Item, src string) {
			mu.Lock()
			items = append(items, it)
			mu.Unlock()
			add("autofill:" + src)
		},
		OnInfo: func(m string) { add("info:" + m) },
		OnError: func(m string) {
			add("error:" + m)
			close(done)
		},
	})
	srv := b.conn(t)

	for _, raw := range []string{
		`{"type":"info","message":"ready"}`,
		`{"type":"partial_transcription","text":"pres","is_final":false}`,
		`{"type":"final_segment","text":"presion"}`,
		`not json`,
		`{"type":"validation_result","ok":true}`,
		`{"type":"tts_audio","audio":"AAAA"}`,
		`{"type":"transcription","text":"presion 15"}`,
		`{"type":"partial_autofill","items":[{"unique_key":"od-pio","value":15,"confidence":0.8}],"source_text":"presion 15"}`,
		`{"type":"autofill_data","data":{"od-cc":"20/20","consent-checkbox":true}}`,
		`{"type":"error","message":"boom"}`,
	} {
		require.NoError(t, srv.WriteMessage(websocket.TextMessage, []byte(raw)))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers not called")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"info:ready",
		"partial:pres",
		"final:presion",
		"full:presion 15",
		"autofill:presion 15",
		"autofill:",
		"error:boom",
	}, log)

	require.Len(t, items, 2)
	assert.Equal(t, "od-pio", items[0][0].ID)
	assert.Equal(t, "15", items[0][0].Value.String())
	require.Len(t, items[1], 2)
	assert.Equal(t, "consent-checkbox", items[1][0].ID)
	assert.True(t, items[1][0].Value.Truthy())
	assert.Equal(t, DataConfidence, items[1][1].Confidence)
}

func TestCloseStopsSends(t *testing.T) {
	b := newBackend(t)
	c := dial(t, b, Handlers{})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.EndStream(context.Background()), ErrClosed)
	assert.False(t, c.SendAudio([]byte{1, 2}))

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	assert.NoError(t, c.Err())
}

func TestServerCloseEndsClient(t *testing.T) {
	b := newBackend(t)
	c := dial(t, b, Handlers{})
	srv := b.conn(t)

	require.NoError(t, srv.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second)))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the close")
	}
	assert.NoError(t, c.Err())
}

func TestServerDropEndsClientWithError(t *testing.T) {
	b := newBackend(t)
	c := dial(t, b, Handlers{})
	b.conn(t).UnderlyingConn().Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the drop")
	}
	assert.Error(t, c.Err())
	assert.ErrorIs(t, c.EndStream(context.Background()), ErrClosed)
}

func TestSendAudioDropsWhenFull(t *testing.T) {
	c := &Client{
		out:    make(chan []byte, 1),
		ctx:    context.Background(),
		logger: zap.NewNop(),
	}
	assert.True(t, c.SendAudio([]byte{1}))
	assert.False(t, c.SendAudio([]byte{2}))
	assert.False(t, c.SendAudio([]byte{3}))
	assert.EqualValues(t, 2, c.Dropped())
}

func TestSendHonorsContext(t *testing.T) {
	c := &Client{
		out:    make(chan []byte),
		ctx:    context.Background(),
		logger: zap.NewNop(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.EndStream(ctx), context.DeadlineExceeded)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", Handlers{}, Options{HandshakeTimeout: time.Second})
	require.Error(t, err)
}

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"type":"partial_transcription","text":"hola","is_final":true}`))
	require.NoError(t, err)
	assert.Equal(t, Inbound{Type: TypePartialTranscription, Text: "hola", IsFinal: true}, m)

	m, err = Decode([]byte(`{"type":"tts_audio","audio":{"nested":1}}`))
	require.NoError(t, err)
	assert.Equal(t, Inbound{Type: TypeTTSAudio}, m)

	_, err = Decode([]byte(`{"text":"no type"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"type":`))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"type":"partial_autofill","items":"oops"}`))
	assert.Error(t, err)
}

func TestDecodeKeepsBatchWithListValues(t *testing.T) {
	m, err := Decode([]byte(`{"type":"partial_autofill","source_text":"glaucoma y catarata","items":[
		{"unique_key":"notes-field","value":"hola"},
		{"unique_key":"dx-select","value":["glaucoma","catarata"]}
	]}`))
	require.NoError(t, err)
	require.Len(t, m.Items, 2)
	assert.Equal(t, "hola", m.Items[0].Value.String())
	assert.Equal(t, "glaucoma,catarata", m.Items[1].Value.String())

	m, err = Decode([]byte(`{"type":"autofill_data","data":{"pio":{"od":18},"notes":"ok"}}`))
	require.NoError(t, err)
	items := m.AutofillItems()
	require.Len(t, items, 2)
	assert.Equal(t, "notes", items[0].ID)
	assert.Equal(t, `{"od":18}`, items[1].Value.String())
}

func TestAutofillItems(t *testing.T) {
	m, err := Decode([]byte(`{"type":"autofill_data","data":{"b":"x","a":"click"}}`))
	require.NoError(t, err)
	items := m.AutofillItems()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.True(t, items[0].Value.IsClick())
	assert.Equal(t, DataConfidence, items[0].Confidence)
}
