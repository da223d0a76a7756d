package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linuxmatters/jivebox/internal/audio"
)

// fakeSource emits `total` frames of a constant value, then ends.
type fakeSource struct {
	sampleRate, channels int
	total, remaining     int
	value                float32
	allocated            int
}

func newFakeSource(total int, value float32) *fakeSource {
	return &fakeSource{sampleRate: 48000, channels: 2, total: total, remaining: total, value: value}
}

func (f *fakeSource) SampleRate() int       { return f.sampleRate }
func (f *fakeSource) Channels() int         { return f.channels }
func (f *fakeSource) Size() (int64, bool)   { return int64(f.total), true }
func (f *fakeSource) Allocate(frames int)   { f.allocated = frames }
func (f *fakeSource) Fill(max int) *audio.Buffer {
	n := max
	if n > f.remaining {
		n = f.remaining
	}
	f.remaining -= n
	buf := audio.NewBuffer(n, f.channels)
	for i := range buf.Data {
		buf.Data[i] = f.value
	}
	return buf
}

func TestFillEmptyWhenNothingScheduled(t *testing.T) {
	s := New(48000, 2)
	buf := s.Fill(100)
	assert.Equal(t, 0, buf.Frames())
}

func TestShortLeafAudibleAndRemovedSameTick(t *testing.T) {
	s := New(48000, 2)
	src := newFakeSource(50, 1.0)
	s.AddSource(0, src)

	buf := s.Fill(100)
	// The leaf produced real audio this tick even though it's already
	// exhausted when Fill returns.
	assert.Equal(t, 100, buf.Frames())
	assert.Equal(t, float32(1.0), buf.Data[0])

	// It must not still be scheduled: the next tick, with nothing else
	// pending, reports end-of-stream.
	buf2 := s.Fill(100)
	assert.Equal(t, 0, buf2.Frames())
}

func TestSubschedulerRetainedWhenEmpty(t *testing.T) {
	root := New(48000, 2)
	sub := root.Subscheduler()
	_ = sub

	// No active leaves, no pending, no callbacks anywhere: every
	// sub-scheduler is silent, so the root reports end-of-stream...
	buf := root.Fill(100)
	assert.Equal(t, 0, buf.Frames())

	// ...but the sub-scheduler itself is still there to receive new
	// content, unlike a leaf which would have been dropped.
	leaves, subs, _, _ := root.Stats()
	assert.Equal(t, 0, leaves)
	assert.Equal(t, 1, subs)

	// Scheduling new content on the sub-scheduler makes the root live
	// again.
	sub.AddSource(0, newFakeSource(10, 0.5))
	buf2 := root.Fill(100)
	assert.Equal(t, 100, buf2.Frames())
}

func TestVolumeRampClampsOutsideWindow(t *testing.T) {
	s := New(48000, 2)
	s.SetVolume(0, 0.5, 1.0)
	assert.InDelta(t, 1.0, s.GetVolume(-1), 1e-9)
	assert.InDelta(t, 0.5, s.GetVolume(10), 1e-9)
	assert.InDelta(t, 0.75, s.GetVolume(0.5), 1e-2)
}

func TestCallbackFiredAtScheduledFrame(t *testing.T) {
	s := New(48000, 2)
	fired := false
	var firedOffset int64
	s.AddCallback(0, func(s *Scheduler) {
		fired = true
		firedOffset = s.FrameOffset()
	})
	s.Fill(100)
	assert.True(t, fired)
	assert.Equal(t, int64(0), firedOffset)
}

func TestCallbackCanScheduleAnotherImmediateCallback(t *testing.T) {
	s := New(48000, 2)
	count := 0
	var step func(*Scheduler)
	step = func(s *Scheduler) {
		count++
		if count < 3 {
			s.AddCallback(0, step)
		}
	}
	s.AddCallback(0, step)
	s.Fill(100)
	assert.Equal(t, 3, count)
}
