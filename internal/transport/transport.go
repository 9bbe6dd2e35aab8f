// Package transport owns the live link to the realtime model service.
// Three wire variants exist; all converge on the same decoded event
// vocabulary so the session loop never branches on transport kind.
package transport

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/samelhousseini/gpt-realtime-agents/internal/bootstrap"
	"github.com/samelhousseini/gpt-realtime-agents/internal/observability"
	"github.com/samelhousseini/gpt-realtime-agents/internal/protocol"
)

type Kind string

const (
	KindPeerMedia    Kind = "peermedia"
	KindTextSocket   Kind = "textsocket"
	KindBinarySocket Kind = "binsocket"
)

var (
	ErrClosed          = errors.New("transport closed")
	ErrNotOpen         = errors.New("transport not open")
	ErrUnknownKind     = errors.New("unknown transport kind")
	ErrAudioViaMedia   = errors.New("audio flows through the media stack on this transport")
	ErrMissingEndpoint = errors.New("transport endpoint not configured")
)

// Connection is the uniform surface over all three wire variants. Open
// must be called exactly once; after Close (or a link drop) the events
// channel is closed and the connection is not reusable — reconnection is a
// new Connection, never an internal retry.
type Connection interface {
	Kind() Kind
	Open(ctx context.Context, creds bootstrap.Credentials) error
	SendAudio(pcm []byte) error
	SendControl(evt protocol.ClientEvent) error
	Events() <-chan protocol.ServerEvent
	Close() error
}

// Options configures a connection before Open.
type Options struct {
	// URL is the websocket endpoint for the socket variants. The peer
	// media variant takes its endpoint from the issued credentials.
	URL     string
	Model   string
	Metrics *observability.Metrics
}

// New builds an unopened connection of the requested kind.
func New(kind Kind, opts Options) (Connection, error) {
	switch kind {
	case KindTextSocket:
		return newTextSocket(opts), nil
	case KindBinarySocket:
		return newBinarySocket(opts), nil
	case KindPeerMedia:
		return newPeerMedia(opts), nil
	default:
		return nil, ErrUnknownKind
	}
}

// transcriptDedup enforces the first-event-wins rule when a service emits
// several semantically equivalent transcript-done variants for one turn.
type transcriptDedup struct {
	seen map[string]bool
}

func newTranscriptDedup() *transcriptDedup {
	return &transcriptDedup{seen: make(map[string]bool)}
}

// admit reports whether evt should pass through. Only transcript-done
// events are ever suppressed; everything else always passes.
func (d *transcriptDedup) admit(evt protocol.ServerEvent) bool {
	if evt.Kind() != protocol.KindTranscriptDone {
		return true
	}
	key := evt.ResponseID
	if key == "" {
		key = evt.ItemID
	}
	if key == "" {
		return true
	}
	if d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

// stampEventID assigns a correlation id to outbound control events so
// service-side error events can be traced back to their trigger. Audio
// appends are high-rate and stay unstamped.
func stampEventID(evt protocol.ClientEvent) protocol.ClientEvent {
	if evt.EventID == "" && evt.Type != protocol.TypeInputAudioAppend {
		evt.EventID = uuid.NewString()
	}
	return evt
}

func (o Options) countMessage(kind Kind, direction string, evtType protocol.EventType) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.TransportMessages.WithLabelValues(string(kind), direction, string(evtType)).Inc()
}

func (o Options) countError(kind Kind, code string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.TransportErrors.WithLabelValues(string(kind), code).Inc()
}
