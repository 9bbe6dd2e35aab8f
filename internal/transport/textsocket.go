package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/samelhousseini/gpt-realtime-agents/internal/audio"
	"github.com/samelhousseini/gpt-realtime-agents/internal/bootstrap"
	"github.com/samelhousseini/gpt-realtime-agents/internal/protocol"
)

// textSocket frames everything as JSON control envelopes; audio rides
// inside input_audio_buffer.append events as transport-safe text.
type textSocket struct {
	opts Options

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    bool
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan protocol.ServerEvent
}

func newTextSocket(opts Options) *textSocket {
	return &textSocket{
		opts:   opts,
		events: make(chan protocol.ServerEvent, 256),
	}
}

func (t *textSocket) Kind() Kind { return KindTextSocket }

func (t *textSocket) Open(ctx context.Context, creds bootstrap.Credentials) error {
	if strings.TrimSpace(t.opts.URL) == "" {
		return ErrMissingEndpoint
	}
	u, err := url.Parse(t.opts.URL)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	model := t.opts.Model
	if creds.Deployment != "" {
		model = creds.Deployment
	}
	if model != "" {
		q.Set("model", model)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+creds.EphemeralKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		t.opts.countError(KindTextSocket, "dial")
		return fmt.Errorf("dial realtime websocket: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	go t.readLoop(conn)
	return nil
}

func (t *textSocket) readLoop(conn *websocket.Conn) {
	defer t.safeClose()
	dedup := newTranscriptDedup()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		evt, err := protocol.ParseServerEvent(data)
		if err != nil {
			// One malformed payload never kills the session.
			t.opts.countError(KindTextSocket, "decode")
			continue
		}
		if !dedup.admit(evt) {
			continue
		}
		t.opts.countMessage(KindTextSocket, "in", evt.Type)
		t.deliver(evt)
	}
}

// deliver drops events once the channel is saturated or the connection is
// closed; the read loop must never block behind a stalled consumer or race
// the channel close.
func (t *textSocket) deliver(evt protocol.ServerEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- evt:
	default:
		t.opts.countError(KindTextSocket, "backpressure")
	}
}

func (t *textSocket) SendAudio(pcm []byte) error {
	return t.SendControl(protocol.AudioAppend(audio.EncodeTransportText(pcm)))
}

func (t *textSocket) SendControl(evt protocol.ClientEvent) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	evt = stampEventID(evt)
	data, err := evt.Encode()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	t.opts.countMessage(KindTextSocket, "out", evt.Type)
	return nil
}

func (t *textSocket) Events() <-chan protocol.ServerEvent { return t.events }

func (t *textSocket) Close() error {
	var retErr error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		if t.conn != nil {
			retErr = t.conn.Close()
		}
		t.mu.Unlock()
		close(t.events)
	})
	return retErr
}

func (t *textSocket) safeClose() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		if t.conn != nil {
			_ = t.conn.Close()
		}
		t.mu.Unlock()
		close(t.events)
	})
}
