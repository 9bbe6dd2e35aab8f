package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Engine owns the miniaudio context shared by capture and playback ports.
// One engine per process; ports are cheap.
type Engine struct {
	mctx *malgo.AllocatedContext
}

func NewEngine() (*Engine, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}
	return &Engine{mctx: mctx}, nil
}

func (e *Engine) Close() error {
	if e.mctx == nil {
		return nil
	}
	err := e.mctx.Uninit()
	e.mctx.Free()
	e.mctx = nil
	return err
}

// NewInputPort returns a microphone port emitting frames of frameSize
// samples at the wire sample rate.
func (e *Engine) NewInputPort(frameSize int) InputPort {
	return &captureDevice{engine: e, frameSize: frameSize}
}

// NewOutputPort returns a speaker port that pulls frames from a source at
// the device rate.
func (e *Engine) NewOutputPort(frameSize int) OutputPort {
	return &playbackDevice{engine: e, frameSize: frameSize}
}

type captureDevice struct {
	engine    *Engine
	frameSize int

	mu     sync.Mutex
	dev    *malgo.Device
	frames chan Frame
	seq    uint64
	rem    []int16
}

func (c *captureDevice) Start(ctx context.Context) (<-chan Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev != nil {
		return nil, fmt.Errorf("%w: capture already started", ErrDeviceUnavailable)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = SampleRate
	cfg.Alsa.NoMMap = 1

	frames := make(chan Frame, 64)
	onSamples := func(_, pInput []byte, _ uint32) {
		if len(pInput) == 0 {
			return
		}
		c.mu.Lock()
		c.rem = append(c.rem, BytesToInt16(pInput)...)
		for len(c.rem) >= c.frameSize {
			samples := make([]int16, c.frameSize)
			copy(samples, c.rem[:c.frameSize])
			c.rem = c.rem[:copy(c.rem, c.rem[c.frameSize:])]
			c.seq++
			select {
			case frames <- Frame{Seq: c.seq, Samples: samples}:
			default:
				// Consumer is behind the hardware clock; dropping beats
				// blocking the real-time callback.
			}
		}
		c.mu.Unlock()
	}

	dev, err := malgo.InitDevice(c.engine.mctx.Context, cfg, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		return nil, fmt.Errorf("%w: open microphone: %v", ErrDeviceUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("%w: start microphone: %v", ErrDeviceUnavailable, err)
	}
	c.dev = dev
	c.frames = frames

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()
	return frames, nil
}

func (c *captureDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return nil
	}
	c.dev.Uninit()
	c.dev = nil
	close(c.frames)
	c.frames = nil
	c.rem = nil
	return nil
}

type playbackDevice struct {
	engine    *Engine
	frameSize int

	mu  sync.Mutex
	dev *malgo.Device
}

func (p *playbackDevice) Start(_ context.Context, src FrameSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev != nil {
		return fmt.Errorf("%w: playback already started", ErrDeviceUnavailable)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = SampleRate
	cfg.Alsa.NoMMap = 1

	frame := make([]int16, p.frameSize)
	onSamples := func(pOutput, _ []byte, _ uint32) {
		want := len(pOutput) / 2
		if want > len(frame) {
			frame = make([]int16, want)
		}
		src.Pull(frame[:want])
		copy(pOutput, Int16ToBytes(frame[:want]))
	}

	dev, err := malgo.InitDevice(p.engine.mctx.Context, cfg, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		return fmt.Errorf("%w: open speaker: %v", ErrDeviceUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("%w: start speaker: %v", ErrDeviceUnavailable, err)
	}
	p.dev = dev
	return nil
}

func (p *playbackDevice) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev == nil {
		return nil
	}
	p.dev.Uninit()
	p.dev = nil
	return nil
}
