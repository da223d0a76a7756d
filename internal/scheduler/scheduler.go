// Package scheduler implements the hierarchical, sample-accurate mixing
// graph: a Scheduler is itself an audio.Source that mixes time-positioned
// child sources, fires timed callbacks, and applies piecewise-linear
// volume automation. Sub-schedulers nest, so independent program buses
// (music, talk) share one clock.
package scheduler

import (
	"math"

	"github.com/linuxmatters/jivebox/internal/audio"
)

// Callback is invoked at a scheduled block boundary. s.FrameOffset is set
// to the callback's exact in-block frame position for the duration of the
// call, so scheduling calls made from within fn are frame-accurate.
type Callback func(s *Scheduler)

type pendingSource struct {
	start int64
	child audio.Source
}

type pendingCallback struct {
	start int64
	fn    Callback
}

type activeChild struct {
	src   audio.Source
	isSub bool
}

type volumeRamp struct {
	startFrame, endFrame int64
	slope                float64
	startVol, endVol     float64
}

func (r volumeRamp) at(frame int64) float64 {
	if frame <= r.startFrame {
		return r.startVol
	}
	if frame >= r.endFrame {
		return r.endVol
	}
	return r.startVol + float64(frame-r.startFrame)*r.slope
}

// Scheduler is a composite, pull-based audio.Source.
type Scheduler struct {
	sampleRate int
	channels   int
	buffer     *audio.Buffer

	pending   []*pendingSource
	callbacks []*pendingCallback
	active    []*activeChild

	// frameOffset is non-zero only while a callback runs; it stamps
	// scheduling calls made from inside the callback with sub-block
	// precision.
	frameOffset int64

	ramp volumeRamp
}

// New creates a root scheduler at the given rate and channel count.
func New(sampleRate, channels int) *Scheduler {
	return &Scheduler{
		sampleRate: sampleRate,
		channels:   channels,
		ramp:       volumeRamp{startVol: 1.0, endVol: 1.0},
	}
}

func (s *Scheduler) SampleRate() int     { return s.sampleRate }
func (s *Scheduler) Channels() int       { return s.channels }
func (s *Scheduler) Size() (int64, bool) { return 0, false }
func (s *Scheduler) FrameOffset() int64  { return s.frameOffset }

// Subscheduler creates a child scheduler sharing this scheduler's rate and
// channel count, and appends it to the active list. A sub-scheduler that
// emits zero frames is never removed: it may gain new content later.
func (s *Scheduler) Subscheduler() *Scheduler {
	sub := New(s.sampleRate, s.channels)
	if s.buffer != nil {
		sub.Allocate(s.buffer.Frames())
	}
	s.active = append(s.active, &activeChild{src: sub, isSub: true})
	return sub
}

func (s *Scheduler) startFrame(startSeconds float64) int64 {
	f := int64(math.Round(startSeconds*float64(s.sampleRate))) + s.frameOffset
	if f < 0 {
		f = 0
	}
	return f
}

// AddSource reformats child to this scheduler's rate/channels and
// schedules it to begin playing at startSeconds (relative to the current
// block, offset by any in-progress callback's frame position). It returns
// the child's playback duration in seconds, if known.
func (s *Scheduler) AddSource(startSeconds float64, child audio.Source) (float64, bool) {
	reformatted, err := audio.ReformatLike(child, s)
	if err != nil {
		// A channel mix that genuinely doesn't exist is a configuration
		// error the caller should have avoided; there is no sensible
		// recovery inside the scheduler, so the source is dropped.
		return 0, false
	}
	child = reformatted

	start := s.startFrame(startSeconds)
	if s.buffer != nil {
		child.Allocate(s.buffer.Frames())
	}
	s.pending = append(s.pending, &pendingSource{start: start, child: child})

	if sz, ok := child.Size(); ok {
		return float64(sz) / float64(s.sampleRate), true
	}
	return 0, false
}

// AddCallback schedules fn to run at the block boundary containing
// startSeconds.
func (s *Scheduler) AddCallback(startSeconds float64, fn Callback) {
	s.callbacks = append(s.callbacks, &pendingCallback{start: s.startFrame(startSeconds), fn: fn})
}

// GetVolume evaluates the current ramp at tSeconds (relative to the
// current block, offset by any in-progress callback).
func (s *Scheduler) GetVolume(tSeconds float64) float64 {
	frame := int64(math.Round(tSeconds*float64(s.sampleRate))) + s.frameOffset
	return s.ramp.at(frame)
}

// SetVolume begins a new ramp from the current instantaneous volume to
// target, starting at startSeconds and lasting durationSeconds (default
// 0.005s). Only one ramp exists at a time: setting a new one discards
// whatever ramp was previously in flight.
func (s *Scheduler) SetVolume(startSeconds, target float64, durationSeconds ...float64) {
	dur := 0.005
	if len(durationSeconds) > 0 {
		dur = durationSeconds[0]
	}

	start := s.startFrame(startSeconds)
	startVol := s.ramp.at(start)
	end := start + int64(math.Round(dur*float64(s.sampleRate)))
	if end == start {
		end = start + 1
	}

	s.ramp = volumeRamp{
		startFrame: start,
		endFrame:   end,
		slope:      (target - startVol) / float64(end-start),
		startVol:   startVol,
		endVol:     target,
	}
}

// Stats reports the current size of each internal list, for metrics and
// diagnostics. activeLeaves and activeSubschedulers partition active.
func (s *Scheduler) Stats() (activeLeaves, activeSubschedulers, pending, callbacks int) {
	for _, a := range s.active {
		if a.isSub {
			activeSubschedulers++
		} else {
			activeLeaves++
		}
	}
	return activeLeaves, activeSubschedulers, len(s.pending), len(s.callbacks)
}

func (s *Scheduler) Allocate(frames int) {
	for _, p := range s.pending {
		p.child.Allocate(frames)
	}
	for _, a := range s.active {
		a.src.Allocate(frames)
	}
	s.buffer = audio.NewBuffer(frames, s.channels)
}

// Fill runs the block algorithm: fire due callbacks, mix active children
// (removing exhausted leaves but retaining sub-schedulers regardless),
// activate due pending sources, and apply the volume ramp. It returns an
// empty buffer iff there are no active leaves, no pending sources, no
// callbacks, and every sub-scheduler produced nothing this tick.
func (s *Scheduler) Fill(max int) *audio.Buffer {
	if s.buffer == nil {
		s.Allocate(max)
	}
	if max > s.buffer.Frames() {
		max = s.buffer.Frames()
	}

	if len(s.active) == 0 && len(s.pending) == 0 && len(s.callbacks) == 0 {
		return s.buffer.Slice(0)
	}

	zeroPrefix(s.buffer, max)
	s.runCallbacks(max)

	hasLeaf, allSubsEmpty := s.mixActive(max)
	s.activatePending(max, &hasLeaf)
	s.applyRamp(max)

	if !hasLeaf && len(s.pending) == 0 && len(s.callbacks) == 0 && allSubsEmpty {
		return s.buffer.Slice(0)
	}
	return s.buffer.Slice(max)
}

// runCallbacks fires every callback due this block. It scans with a
// growing index rather than a fixed snapshot so that a callback which
// schedules another immediate (same-block) callback sees it fire within
// this same tick, matching the frame_offset contract.
func (s *Scheduler) runCallbacks(max int) {
	i := 0
	for i < len(s.callbacks) {
		cb := s.callbacks[i]
		if cb.start < int64(max) {
			s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
			s.frameOffset = cb.start
			cb.fn(s)
			s.frameOffset = 0
		} else {
			cb.start -= int64(max)
			i++
		}
	}
}

func (s *Scheduler) mixActive(max int) (hasLeaf bool, allSubsEmpty bool) {
	allSubsEmpty = true
	kept := s.active[:0]
	for _, a := range s.active {
		produced, alive := forceFill(s.buffer.Slice(max), a.src)
		if produced > 0 {
			if a.isSub {
				allSubsEmpty = false
			} else {
				hasLeaf = true
			}
		}
		if a.isSub || alive {
			kept = append(kept, a)
		}
	}
	s.active = kept
	return hasLeaf, allSubsEmpty
}

func (s *Scheduler) activatePending(max int, hasLeaf *bool) {
	old := s.pending
	s.pending = nil
	for _, p := range old {
		if p.start >= int64(max) {
			p.start -= int64(max)
			s.pending = append(s.pending, p)
			continue
		}
		local := p.start
		if local < 0 {
			local = 0
		}
		dst := s.buffer.Slice(max).From(int(local))
		produced, alive := forceFill(dst, p.child)
		if produced > 0 {
			*hasLeaf = true
		}
		if alive {
			s.active = append(s.active, &activeChild{src: p.child})
		}
	}
}

func (s *Scheduler) applyRamp(max int) {
	ch := s.channels
	for i := 0; i < max; i++ {
		v := float32(s.ramp.at(int64(i)))
		if v == 1 {
			continue
		}
		base := i * ch
		for c := 0; c < ch; c++ {
			s.buffer.Data[base+c] *= v
		}
	}
	s.ramp.startFrame -= int64(max)
	s.ramp.endFrame -= int64(max)
}

func zeroPrefix(b *audio.Buffer, max int) {
	n := max * b.Channels
	if n > len(b.Data) {
		n = len(b.Data)
	}
	for i := 0; i < n; i++ {
		b.Data[i] = 0
	}
}

// forceFill repeatedly fills src into dst until dst is full or src is
// exhausted. It returns the number of frames actually produced and
// whether src is still alive (false iff a Fill call returned zero
// frames, i.e. src hit end-of-stream during this call).
func forceFill(dst *audio.Buffer, src audio.Source) (int, bool) {
	total := 0
	remaining := dst
	for remaining.Frames() > 0 {
		filled := src.Fill(remaining.Frames())
		n := filled.Frames()
		if n == 0 {
			return total, false
		}
		remaining.Add(0, filled)
		total += n
		if n >= remaining.Frames() {
			return total, true
		}
		remaining = remaining.From(n)
	}
	return total, true
}
