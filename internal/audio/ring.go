package audio

import "sync"

// PlaybackRing decouples the arrival pattern of synthesized audio
// (unpredictably sized network chunks) from the fixed-size pull pattern of
// the output device. Appends grow the tail; the device pulls fixed frames
// from the head.
type PlaybackRing struct {
	mu      sync.Mutex
	samples []int16
	flushes uint64
}

func NewPlaybackRing() *PlaybackRing {
	return &PlaybackRing{}
}

// Append copies new decoded samples onto the tail.
func (r *PlaybackRing) Append(samples []int16) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	r.samples = append(r.samples, samples...)
	r.mu.Unlock()
}

// Pull fills frame from the head. When fewer than len(frame) samples are
// buffered it emits a full frame of silence and discards the partial
// remainder: a short silence gap beats replaying stale audio. Returns
// whether real audio was emitted.
func (r *PlaybackRing) Pull(frame []int16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) >= len(frame) {
		copy(frame, r.samples[:len(frame)])
		rest := len(r.samples) - len(frame)
		copy(r.samples, r.samples[len(frame):])
		r.samples = r.samples[:rest]
		return true
	}
	for i := range frame {
		frame[i] = 0
	}
	r.samples = r.samples[:0]
	return false
}

// Flush drops everything buffered. It holds the same lock as Append, so an
// append racing a flush can never resurrect dropped audio: it lands either
// wholly before the flush (and is dropped) or wholly after.
func (r *PlaybackRing) Flush() {
	r.mu.Lock()
	r.samples = r.samples[:0]
	r.flushes++
	r.mu.Unlock()
}

// Len reports the number of buffered samples.
func (r *PlaybackRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// FlushCount reports how many flushes have happened over the ring's life.
func (r *PlaybackRing) FlushCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}
