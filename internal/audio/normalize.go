package audio

import (
	"math"
	"sync"
)

// Normalize measures the integrated loudness of inner on a background
// worker at construction time, then scales every output block so the
// stream matches targetLUFS. The main goroutine blocks on the
// measurement only on its first Allocate/Fill: the single synchronous
// join point in an otherwise single-threaded pipeline.
type Normalize struct {
	base
	inner      Source
	targetLUFS float64

	wg       sync.WaitGroup
	measured float64
	gain     float64
}

// NewNormalize wraps inner, targeting targetLUFS integrated loudness.
// Measurement starts immediately on a shared background worker pool.
func NewNormalize(inner Source, targetLUFS float64) *Normalize {
	n := &Normalize{inner: inner, targetLUFS: targetLUFS, gain: 1.0}
	n.sampleRate = inner.SampleRate()
	n.channels = inner.Channels()
	n.size, n.sizeKnown = inner.Size()

	n.wg.Add(1)
	measurePool.submit(func() {
		defer n.wg.Done()
		n.measured = measureLoudness(inner)
		if seekable, ok := inner.(Seekable); ok {
			_ = seekable.Seek(0)
		}
		if !math.IsInf(n.measured, -1) {
			n.gain = math.Pow(10, (n.targetLUFS-n.measured)/20)
		}
	})
	return n
}

// Measured returns the integrated loudness computed for inner, in LUFS.
// It blocks until the background measurement completes.
func (n *Normalize) Measured() float64 {
	n.wg.Wait()
	return n.measured
}

func (n *Normalize) Allocate(frames int) {
	n.wg.Wait()
	n.inner.Allocate(frames)
	n.base.Allocate(frames)
}

func (n *Normalize) Fill(max int) *Buffer {
	n.wg.Wait()
	if n.buffer == nil {
		n.Allocate(max)
	}
	if max > n.buffer.Frames() {
		max = n.buffer.Frames()
	}
	in := n.inner.Fill(max)
	out := n.buffer.Slice(in.Frames())
	gain := float32(n.gain)
	for i, v := range in.Data {
		out.Data[i] = v * gain
	}
	return out
}

// Seek delegates to the inner source if possible.
func (n *Normalize) Seek(frame int64) error {
	s, ok := n.inner.(Seekable)
	if !ok {
		return errNotSeekable
	}
	return s.Seek(frame)
}
