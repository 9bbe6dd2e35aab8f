package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/samelhousseini/gpt-realtime-agents/internal/audio"
	"github.com/samelhousseini/gpt-realtime-agents/internal/bootstrap"
	"github.com/samelhousseini/gpt-realtime-agents/internal/protocol"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recvEvent(t *testing.T, events <-chan protocol.ServerEvent) protocol.ServerEvent {
	t.Helper()
	select {
	case evt, ok := <-events:
		if !ok {
			t.Fatal("events channel closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return protocol.ServerEvent{}
}

func TestTextSocketRoundTrip(t *testing.T) {
	received := make(chan []byte, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer ek_test" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("model"); got != "gpt-realtime" {
			t.Errorf("model = %q", got)
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	defer srv.Close()

	conn, err := New(KindTextSocket, Options{URL: wsURL(srv), Model: "gpt-realtime"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	creds := bootstrap.Credentials{EphemeralKey: "ek_test", Deployment: "gpt-realtime"}
	if err := conn.Open(context.Background(), creds); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	if evt := recvEvent(t, conn.Events()); evt.Kind() != protocol.KindSessionReady {
		t.Fatalf("first event kind = %v, want session ready", evt.Kind())
	}

	pcm := audio.Int16ToBytes([]int16{100, -200, 300})
	if err := conn.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	select {
	case data := <-received:
		var evt protocol.ClientEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("server received non-JSON frame: %v", err)
		}
		if evt.Type != protocol.TypeInputAudioAppend {
			t.Fatalf("type = %v, want input_audio_buffer.append", evt.Type)
		}
		decoded, err := audio.DecodeTransportText(evt.Audio)
		if err != nil {
			t.Fatalf("audio payload not transport text: %v", err)
		}
		if string(decoded) != string(pcm) {
			t.Fatal("audio payload mangled in transit")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received audio frame")
	}
}

func TestTextSocketDeduplicatesTranscriptDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.audio_transcript.done","response_id":"r1","transcript":"hello"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.output_audio_transcript.done","response_id":"r1","transcript":"hello"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.done","response":{}}`))
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	conn := newTextSocket(Options{URL: wsURL(srv)})
	if err := conn.Open(context.Background(), bootstrap.Credentials{EphemeralKey: "ek"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	first := recvEvent(t, conn.Events())
	if first.Kind() != protocol.KindTranscriptDone || first.Transcript != "hello" {
		t.Fatalf("first event = %+v, want transcript done", first)
	}
	// The duplicate variant for the same turn is suppressed; the next
	// event through is the response.done.
	second := recvEvent(t, conn.Events())
	if second.Kind() != protocol.KindResponseDone {
		t.Fatalf("second event kind = %v, want response done (duplicate leaked)", second.Kind())
	}
}

func TestTextSocketMalformedFrameKeepsSessionAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	conn := newTextSocket(Options{URL: wsURL(srv)})
	if err := conn.Open(context.Background(), bootstrap.Credentials{EphemeralKey: "ek"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	if evt := recvEvent(t, conn.Events()); evt.Kind() != protocol.KindSessionReady {
		t.Fatalf("event kind = %v, want session ready after skipping bad frame", evt.Kind())
	}
}

func TestTextSocketLinkDropClosesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	conn := newTextSocket(Options{URL: wsURL(srv)})
	if err := conn.Open(context.Background(), bootstrap.Credentials{EphemeralKey: "ek"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Fatal("expected channel close, got event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel never closed after link drop")
	}
}

func TestTextSocketCloseWithSaturatedUndrainedEvents(t *testing.T) {
	pushed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Far more frames than the events buffer holds, with nobody
		// reading on the client side.
		for i := 0; i < 400; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.done","response":{}}`)); err != nil {
				return
			}
		}
		close(pushed)
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	conn := newTextSocket(Options{URL: wsURL(srv)})
	if err := conn.Open(context.Background(), bootstrap.Credentials{EphemeralKey: "ek"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	select {
	case <-pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("server never finished pushing frames")
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// The buffered backlog drains and the channel closes cleanly.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-conn.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after Close")
		}
	}
}

func TestTextSocketSendBeforeOpen(t *testing.T) {
	conn := newTextSocket(Options{URL: "ws://example.invalid"})
	if err := conn.SendControl(protocol.ResponseCreate()); err != ErrNotOpen {
		t.Fatalf("SendControl() error = %v, want ErrNotOpen", err)
	}
}
