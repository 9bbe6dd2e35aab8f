package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/samelhousseini/gpt-realtime-agents/internal/bootstrap"
	"github.com/samelhousseini/gpt-realtime-agents/internal/protocol"
)

const (
	dataChannelLabel  = "realtime-channel"
	negotiateTimeout  = 15 * time.Second
	peerEventsBacklog = 256
)

// peerMedia negotiates an offer/answer media session with the service and
// exchanges control events over a reliable data channel. Audio capture and
// render ride the media stack itself, so SendAudio is rejected: the engine
// only handles control traffic on this variant.
type peerMedia struct {
	opts   Options
	client *http.Client

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	dcReady   bool
	closed    bool
	perTurn   *transcriptDedup
	closeOnce sync.Once
	events    chan protocol.ServerEvent
}

func newPeerMedia(opts Options) *peerMedia {
	return &peerMedia{
		opts:   opts,
		client: &http.Client{Timeout: negotiateTimeout},
		events: make(chan protocol.ServerEvent, peerEventsBacklog),
	}
}

func (p *peerMedia) Kind() Kind { return KindPeerMedia }

func (p *peerMedia) Open(ctx context.Context, creds bootstrap.Credentials) error {
	if strings.TrimSpace(creds.WebRTCURL) == "" {
		return ErrMissingEndpoint
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		p.mu.Lock()
		p.dcReady = true
		p.mu.Unlock()
		// The control channel coming up is this variant's session-ready
		// signal; the service does not emit one before the first update.
		p.deliver(protocol.ServerEvent{Type: protocol.TypeSessionCreated})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		evt, err := protocol.ParseServerEvent(msg.Data)
		if err != nil {
			p.opts.countError(KindPeerMedia, "decode")
			return
		}
		if !p.dedup().admit(evt) {
			return
		}
		p.opts.countMessage(KindPeerMedia, "in", evt.Type)
		p.deliver(evt)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			p.safeClose()
		}
	})

	p.mu.Lock()
	p.pc = pc
	p.dc = dc
	p.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		p.safeClose()
		return fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		p.safeClose()
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		p.safeClose()
		return ctx.Err()
	}

	answer, err := p.negotiate(ctx, creds, pc.LocalDescription().SDP)
	if err != nil {
		p.safeClose()
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		p.safeClose()
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// negotiate posts the local SDP to the regional entry point and returns
// the service's answer.
func (p *peerMedia) negotiate(ctx context.Context, creds bootstrap.Credentials, offerSDP string) (string, error) {
	u, err := url.Parse(creds.WebRTCURL)
	if err != nil {
		return "", fmt.Errorf("parse media endpoint: %w", err)
	}
	q := u.Query()
	model := p.opts.Model
	if creds.Deployment != "" {
		model = creds.Deployment
	}
	if model != "" {
		q.Set("model", model)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(offerSDP))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+creds.EphemeralKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := p.client.Do(req)
	if err != nil {
		p.opts.countError(KindPeerMedia, "negotiate")
		return "", fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		p.opts.countError(KindPeerMedia, fmt.Sprintf("status_%d", resp.StatusCode))
		return "", fmt.Errorf("offer rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

func (p *peerMedia) SendAudio([]byte) error {
	return ErrAudioViaMedia
}

func (p *peerMedia) SendControl(evt protocol.ClientEvent) error {
	p.mu.Lock()
	dc, ready := p.dc, p.dcReady
	p.mu.Unlock()
	if dc == nil || !ready {
		return ErrNotOpen
	}
	evt = stampEventID(evt)
	data, err := evt.Encode()
	if err != nil {
		return err
	}
	if err := dc.SendText(string(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	p.opts.countMessage(KindPeerMedia, "out", evt.Type)
	return nil
}

func (p *peerMedia) Events() <-chan protocol.ServerEvent { return p.events }

func (p *peerMedia) Close() error {
	var retErr error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		pc := p.pc
		p.mu.Unlock()
		if pc != nil {
			retErr = pc.Close()
		}
		close(p.events)
	})
	return retErr
}

func (p *peerMedia) safeClose() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		pc := p.pc
		p.mu.Unlock()
		if pc != nil {
			_ = pc.Close()
		}
		close(p.events)
	})
}

// deliver drops events once the channel is saturated or the connection is
// closed; data channel callbacks must never block behind a stalled
// consumer or race the channel close.
func (p *peerMedia) deliver(evt protocol.ServerEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- evt:
	default:
		p.opts.countError(KindPeerMedia, "backpressure")
	}
}

func (p *peerMedia) dedup() *transcriptDedup {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.perTurn == nil {
		p.perTurn = newTranscriptDedup()
	}
	return p.perTurn
}
