// Package vad turns a raw microphone signal into a debounced
// speaking/silence indicator plus a normalized level for UI display.
package vad

import (
	"math"
	"time"

	"github.com/samelhousseini/gpt-realtime-agents/internal/audio"
)

// State is the detector output after each processed frame. Level is the
// smoothed signal energy on a 0..100 scale. Active is false when no signal
// is flowing, in which case Speaking is always false too.
type State struct {
	Speaking bool
	Level    float64
	Active   bool
}

// Config tunes the detector. Zero values fall back to defaults.
type Config struct {
	// Threshold is the 0..100 level above which the signal counts as voice.
	Threshold float64
	// Alpha is the exponential smoothing factor applied to the raw RMS:
	// smoothed = smoothed*Alpha + rms*(1-Alpha).
	Alpha float64
	// MinSpeakingTime is how long the level must stay above Threshold
	// before Speaking flips on. Raw threshold crossings are too noisy for
	// barge-in decisions.
	MinSpeakingTime time.Duration
	// MinSilenceTime is how long the level must stay below Threshold
	// before Speaking flips off.
	MinSilenceTime time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:       12,
		Alpha:           0.8,
		MinSpeakingTime: 120 * time.Millisecond,
		MinSilenceTime:  350 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		c.Alpha = d.Alpha
	}
	if c.MinSpeakingTime <= 0 {
		c.MinSpeakingTime = d.MinSpeakingTime
	}
	if c.MinSilenceTime <= 0 {
		c.MinSilenceTime = d.MinSilenceTime
	}
	return c
}

// Detector tracks one live input stream. Time advances with the samples it
// is fed, not the wall clock, so the debounce windows are exact regardless
// of processing jitter. Not safe for concurrent use.
type Detector struct {
	cfg      Config
	smoothed float64
	speaking bool
	aboveFor time.Duration
	belowFor time.Duration
	state    State
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Process consumes the next capture frame and returns the updated state.
// An empty frame means the signal is gone: the detector goes inactive and
// reports not-speaking rather than failing.
func (d *Detector) Process(frame []int16) State {
	if len(frame) == 0 {
		d.Reset()
		return d.state
	}

	rms := rmsOf(frame)
	d.smoothed = d.smoothed*d.cfg.Alpha + rms*(1-d.cfg.Alpha)
	level := d.smoothed * 100
	if level > 100 {
		level = 100
	}

	elapsed := time.Duration(len(frame)) * time.Second / audio.SampleRate
	if level > d.cfg.Threshold {
		d.aboveFor += elapsed
		d.belowFor = 0
		if !d.speaking && d.aboveFor >= d.cfg.MinSpeakingTime {
			d.speaking = true
		}
	} else {
		d.belowFor += elapsed
		d.aboveFor = 0
		if d.speaking && d.belowFor >= d.cfg.MinSilenceTime {
			d.speaking = false
		}
	}

	d.state = State{Speaking: d.speaking, Level: level, Active: true}
	return d.state
}

// Last returns the most recent state without consuming audio.
func (d *Detector) Last() State {
	return d.state
}

// Reset returns the detector to the inactive idle state.
func (d *Detector) Reset() {
	d.smoothed = 0
	d.speaking = false
	d.aboveFor = 0
	d.belowFor = 0
	d.state = State{}
}

func rmsOf(frame []int16) float64 {
	var sum float64
	for _, s := range frame {
		f := float64(s) / 32768
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)))
}
