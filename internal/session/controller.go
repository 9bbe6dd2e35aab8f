// Package session composes capture, bootstrap, transport, playback and the
// tool-call orchestrator into one ordered lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samelhousseini/gpt-realtime-agents/internal/audio"
	"github.com/samelhousseini/gpt-realtime-agents/internal/bootstrap"
	"github.com/samelhousseini/gpt-realtime-agents/internal/observability"
	"github.com/samelhousseini/gpt-realtime-agents/internal/protocol"
	"github.com/samelhousseini/gpt-realtime-agents/internal/reliability"
	"github.com/samelhousseini/gpt-realtime-agents/internal/tools"
	"github.com/samelhousseini/gpt-realtime-agents/internal/transport"
	"github.com/samelhousseini/gpt-realtime-agents/internal/vad"
)

// ControllerStatus is the session lifecycle state. Transitions are
// monotonic within one connection attempt: Ended never returns to
// Connected without a fresh Connecting phase.
type ControllerStatus string

const (
	StatusIdle       ControllerStatus = "idle"
	StatusConnecting ControllerStatus = "connecting"
	StatusConnected  ControllerStatus = "connected"
	StatusEnded      ControllerStatus = "ended"
)

var ErrAlreadyRunning = errors.New("session already running")

// Bootstrapper issues credentials for one connection attempt.
type Bootstrapper interface {
	IssueSession(ctx context.Context, deployment, voice string) (bootstrap.Credentials, error)
}

// ToolSource supplies the tool definitions registered with the model.
type ToolSource interface {
	Get(ctx context.Context) ([]protocol.Tool, string, error)
}

// Config wires one controller. Transport, audio ports and collaborator
// clients are injected so tests can run the full lifecycle with fakes.
type Config struct {
	TransportKind transport.Kind
	TransportURL  string
	Model         string
	Voice         string
	Instructions  string

	// FrameSize is the capture/playback frame length in samples.
	// Defaults to 20 ms at the wire rate.
	FrameSize int

	// VAD tunes the local voice-activity indicator. Zero fields fall back
	// to the detector defaults.
	VAD vad.Config

	// CaptureDumpPath, when set, writes the outbound microphone audio of
	// the session to a WAV file on teardown.
	CaptureDumpPath string
}

// Callbacks surface session activity to the shell (CLI, UI). All are
// optional and invoked from the session loop goroutine.
type Callbacks struct {
	OnStatus              func(ControllerStatus)
	OnAssistantTranscript func(string)
	OnUserTranscript      func(string)
	OnVoiceActivity       func(vad.State)
	OnToolResult          func(tools.Result)
	OnError               func(error)
}

// Controller owns the Session state and runs the single ordered event
// loop. All inbound events funnel through one channel per transport; there
// are no callback mutations of shared state.
type Controller struct {
	cfg       Config
	boot      Bootstrapper
	toolSrc   ToolSource
	executor  tools.Executor
	input     audio.InputPort
	output    audio.OutputPort
	metrics   *observability.Metrics
	callbacks Callbacks

	// newConn is swapped for a fake transport in tests.
	newConn func(transport.Kind, transport.Options) (transport.Connection, error)

	mu      sync.Mutex
	status  ControllerStatus
	running bool
	stop    chan struct{}
	conn    transport.Connection

	muted atomic.Bool
}

func NewController(
	cfg Config,
	boot Bootstrapper,
	toolSrc ToolSource,
	executor tools.Executor,
	input audio.InputPort,
	output audio.OutputPort,
	metrics *observability.Metrics,
	callbacks Callbacks,
) *Controller {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.SampleRate / 50
	}
	return &Controller{
		cfg:       cfg,
		boot:      boot,
		toolSrc:   toolSrc,
		executor:  executor,
		input:     input,
		output:    output,
		metrics:   metrics,
		callbacks: callbacks,
		newConn:   transport.New,
		status:    StatusIdle,
	}
}

func (c *Controller) Status() ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetMuted gates outbound microphone audio. Capture keeps running so the
// local voice-activity indicator stays live while muted.
func (c *Controller) SetMuted(muted bool) {
	c.muted.Store(muted)
}

func (c *Controller) Muted() bool {
	return c.muted.Load()
}

// End requests teardown of a running session. Safe to call at any time.
func (c *Controller) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running && c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
	}
}

// Reset returns an ended controller to Idle so a new Run may begin.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		c.setStatusLocked(StatusIdle)
	}
}

func (c *Controller) setStatus(s ControllerStatus) {
	c.mu.Lock()
	c.setStatusLocked(s)
	c.mu.Unlock()
}

func (c *Controller) setStatusLocked(s ControllerStatus) {
	if c.status == s {
		return
	}
	c.status = s
	if c.metrics != nil {
		c.metrics.SessionEvents.WithLabelValues(string(s)).Inc()
	}
	if c.callbacks.OnStatus != nil {
		c.callbacks.OnStatus(s)
	}
}

// runState is the per-attempt wiring shared by the loop and its helpers.
// It is rebuilt from scratch for every Run; nothing leaks across attempts.
type runState struct {
	conn         transport.Connection
	ring         *audio.PlaybackRing
	detector     *vad.Detector
	orchestrator *tools.Orchestrator
	frames       <-chan audio.Frame

	startedAt         time.Time
	sessionUpdateSent bool
	readyAt           time.Time
	firstAudioSeen    bool
	captureDump       []byte
}

// Run executes one full session lifecycle and blocks until it ends.
// Teardown always releases capture first, then the transport, then
// playback, on every exit path.
func (c *Controller) Run(ctx context.Context) (retErr error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.stop = make(chan struct{})
	stop := c.stop
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveSessions.Inc()
	}

	st := &runState{
		ring:      audio.NewPlaybackRing(),
		detector:  vad.NewDetector(c.cfg.VAD),
		startedAt: time.Now(),
	}

	defer func() {
		c.teardown(st)
		c.mu.Lock()
		c.running = false
		c.conn = nil
		if retErr != nil && c.status == StatusConnecting {
			// Failed bootstrap falls back to Idle; no half-connected
			// state is ever observable.
			c.setStatusLocked(StatusIdle)
		} else {
			c.setStatusLocked(StatusEnded)
		}
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.ActiveSessions.Dec()
		}
	}()

	// Capture starts before any network work so permission failures
	// surface immediately and cheaply.
	frames, err := c.input.Start(ctx)
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	st.frames = frames

	creds, err := c.boot.IssueSession(ctx, c.cfg.Model, c.cfg.Voice)
	if err != nil {
		return fmt.Errorf("issue session: %w", err)
	}
	toolDefs, toolChoice, err := c.toolSrc.Get(ctx)
	if err != nil {
		return fmt.Errorf("fetch tools: %w", err)
	}

	conn, err := c.newConn(c.cfg.TransportKind, transport.Options{
		URL:     c.cfg.TransportURL,
		Model:   c.cfg.Model,
		Metrics: c.metrics,
	})
	if err != nil {
		return err
	}
	st.conn = conn
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	if err := conn.Open(ctx, creds); err != nil {
		return fmt.Errorf("open %s transport: %w", conn.Kind(), err)
	}

	st.orchestrator = tools.NewOrchestrator(c.executor, conn, c.metrics, c.callbacks.OnToolResult)

	if err := c.output.Start(ctx, st.ring); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	c.pump(ctx, stop, st, toolDefs, toolChoice)
	return nil
}

// pump is the single ordered event loop: one select over capture frames,
// decoded transport events and shutdown signals.
func (c *Controller) pump(ctx context.Context, stop <-chan struct{}, st *runState, toolDefs []protocol.Tool, toolChoice string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return

		case frame, ok := <-st.frames:
			if !ok {
				st.frames = nil
				continue
			}
			c.handleCaptureFrame(st, frame)

		case evt, ok := <-st.conn.Events():
			if !ok {
				// Link drop. No transport-level reconnect; a new session
				// is an explicit new Run.
				return
			}
			if done := c.handleServerEvent(ctx, st, evt, toolDefs, toolChoice); done {
				return
			}
		}
	}
}

func (c *Controller) handleCaptureFrame(st *runState, frame audio.Frame) {
	state := st.detector.Process(frame.Samples)
	if c.callbacks.OnVoiceActivity != nil {
		c.callbacks.OnVoiceActivity(state)
	}
	if c.muted.Load() {
		return
	}
	pcm := audio.Int16ToBytes(frame.Samples)
	if c.cfg.CaptureDumpPath != "" {
		st.captureDump = append(st.captureDump, pcm...)
	}
	if err := st.conn.SendAudio(pcm); err != nil {
		if errors.Is(err, transport.ErrAudioViaMedia) {
			return
		}
		c.reportError(fmt.Errorf("send audio: %w", err))
	}
}

func (c *Controller) handleServerEvent(ctx context.Context, st *runState, evt protocol.ServerEvent, toolDefs []protocol.Tool, toolChoice string) bool {
	switch evt.Kind() {
	case protocol.KindSessionReady:
		if st.sessionUpdateSent {
			return false
		}
		st.sessionUpdateSent = true
		st.readyAt = time.Now()
		cfg := protocol.SessionConfig{
			Model:             c.cfg.Model,
			Voice:             c.cfg.Voice,
			Instructions:      c.cfg.Instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			Tools:             toolDefs,
			ToolChoice:        toolChoice,
		}
		if err := st.conn.SendControl(protocol.SessionUpdate(cfg)); err != nil {
			c.reportError(fmt.Errorf("send session.update: %w", err))
			return true
		}
		c.setStatus(StatusConnected)
		if c.metrics != nil {
			c.metrics.ObserveTurnStage("connect_to_session_ready", time.Since(st.startedAt))
		}

	case protocol.KindAudioDelta:
		pcm, err := audio.DecodeTransportText(evt.Delta)
		if err != nil {
			c.reportError(fmt.Errorf("decode audio delta: %w", err))
			return false
		}
		st.ring.Append(audio.BytesToInt16(pcm))
		if c.metrics != nil {
			c.metrics.PlaybackDepth.Set(float64(st.ring.Len()))
			if !st.firstAudioSeen && !st.readyAt.IsZero() {
				st.firstAudioSeen = true
				c.metrics.ObserveFirstAudioLatency(time.Since(st.readyAt))
			}
		}

	case protocol.KindSpeechStarted:
		// Barge-in: the user talked over the assistant. Everything queued
		// for playback is stale the moment this arrives.
		started := time.Now()
		st.ring.Flush()
		if c.metrics != nil {
			c.metrics.ObserveBargeInFlush(time.Since(started))
			c.metrics.PlaybackDepth.Set(0)
			c.metrics.ObserveIndicator("barge_in")
		}

	case protocol.KindTranscriptDone:
		if c.callbacks.OnAssistantTranscript != nil && evt.Transcript != "" {
			c.callbacks.OnAssistantTranscript(evt.Transcript)
		}

	case protocol.KindInputTranscriptDone:
		if c.callbacks.OnUserTranscript != nil && evt.Transcript != "" {
			c.callbacks.OnUserTranscript(evt.Transcript)
		}

	case protocol.KindFunctionCallAnnounced, protocol.KindFunctionCallArguments, protocol.KindResponseDone:
		st.orchestrator.HandleEvent(ctx, evt)

	case protocol.KindError:
		if evt.Error != nil {
			c.reportError(fmt.Errorf("service error: %s", evt.Error.Message))
			if !reliability.IsRecoverableRealtimeError(evt.Error.Code) {
				return true
			}
		}
	}
	return false
}

// SendText injects a typed user message into the live conversation.
func (c *Controller) SendText(text string) error {
	c.mu.Lock()
	conn := c.conn
	status := c.status
	c.mu.Unlock()
	if conn == nil || status != StatusConnected {
		return transport.ErrNotOpen
	}
	if err := conn.SendControl(protocol.UserText(text)); err != nil {
		return err
	}
	return conn.SendControl(protocol.ResponseCreate())
}

// teardown releases resources in the fixed order: capture device first,
// then the transport, then playback.
func (c *Controller) teardown(st *runState) {
	if err := c.input.Stop(); err != nil {
		log.Printf("session: stop capture: %v", err)
	}
	if st.conn != nil {
		if err := st.conn.Close(); err != nil {
			log.Printf("session: close transport: %v", err)
		}
	}
	if st.orchestrator != nil {
		st.orchestrator.Wait()
	}
	st.ring.Flush()
	if err := c.output.Stop(); err != nil {
		log.Printf("session: stop playback: %v", err)
	}
	if c.cfg.CaptureDumpPath != "" && len(st.captureDump) > 0 {
		if err := audio.WriteWAVPCM16LEFile(c.cfg.CaptureDumpPath, st.captureDump, audio.SampleRate); err != nil {
			log.Printf("session: write capture dump: %v", err)
		}
	}
}

func (c *Controller) reportError(err error) {
	log.Printf("session: %v", err)
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}
