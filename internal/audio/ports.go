package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable reports that no capture or playback device could be
// opened. Fatal to session start; surfaced with an actionable message.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Frame is one capture buffer of PCM16 mono samples tagged with arrival
// order. Ownership transfers on handoff: a frame is consumed exactly once
// and never shared after it leaves the channel.
type Frame struct {
	Seq     uint64
	Samples []int16
}

// InputPort delivers microphone frames in capture order. The frame channel
// closes when the port stops.
type InputPort interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Stop() error
}

// FrameSource is pulled by an OutputPort at the device rate. Pull fills the
// frame and reports whether real audio (vs. silence) was written.
type FrameSource interface {
	Pull(frame []int16) bool
}

// OutputPort renders frames pulled from src until stopped.
type OutputPort interface {
	Start(ctx context.Context, src FrameSource) error
	Stop() error
}
