package audio

import (
	"math"

	"github.com/gopxl/beep"
)

// sourceStreamer bridges our pull-based Source to beep.Streamer so inner
// sources can be driven through beep's resampling algorithm. Once Fill
// returns zero frames the streamer reports end-of-stream permanently, per
// the Source contract (a single zero-length fill is the only EOF signal).
type sourceStreamer struct {
	src  Source
	done bool
}

func (s *sourceStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.done {
		return 0, false
	}
	buf := s.src.Fill(len(samples))
	n := buf.Frames()
	ch := buf.Channels
	for i := 0; i < n; i++ {
		switch ch {
		case 1:
			v := float64(buf.Data[i])
			samples[i][0], samples[i][1] = v, v
		default:
			samples[i][0] = float64(buf.Data[i*ch+0])
			samples[i][1] = float64(buf.Data[i*ch+1])
		}
	}
	if n == 0 {
		s.done = true
		return 0, false
	}
	return n, true
}

func (s *sourceStreamer) Err() error { return nil }

// Resample adapts inner to a new sample rate. It bridges through beep's
// resampler, which operates on stereo pairs: for an inner source with
// more than two channels only the first two are resampled and the rest
// are output as silence. Reformat downmixes before it resamples, so this
// only arises when the target itself has more than two channels.
type Resample struct {
	base
	inner     Source
	streamer  *sourceStreamer
	resampler *beep.Resampler
}

// NewResample wraps inner, producing output at targetRate.
func NewResample(inner Source, targetRate int) *Resample {
	r := &Resample{inner: inner}
	r.sampleRate = targetRate
	r.channels = inner.Channels()
	if sz, ok := inner.Size(); ok {
		r.size = int64(math.Ceil(float64(sz) * float64(targetRate) / float64(inner.SampleRate())))
		r.sizeKnown = true
	}
	r.streamer = &sourceStreamer{src: inner}
	r.resampler = beep.Resample(4, beep.SampleRate(inner.SampleRate()), beep.SampleRate(targetRate), r.streamer)
	return r
}

func (r *Resample) Allocate(frames int) {
	innerFrames := int(math.Ceil(float64(frames) * float64(r.inner.SampleRate()) / float64(r.sampleRate)))
	if innerFrames < 1 {
		innerFrames = 1
	}
	r.inner.Allocate(innerFrames)
	r.base.Allocate(frames)
}

func (r *Resample) Fill(max int) *Buffer {
	if r.buffer == nil {
		r.Allocate(max)
	}
	if max > r.buffer.Frames() {
		max = r.buffer.Frames()
	}
	tmp := make([][2]float64, max)
	n, _ := r.resampler.Stream(tmp)
	out := r.buffer.Slice(n)
	ch := out.Channels
	for i := 0; i < n; i++ {
		switch ch {
		case 1:
			out.Data[i] = float32((tmp[i][0] + tmp[i][1]) / 2)
		default:
			out.Data[i*ch+0] = float32(tmp[i][0])
			out.Data[i*ch+1] = float32(tmp[i][1])
			for c := 2; c < ch; c++ {
				out.Data[i*ch+c] = 0
			}
		}
	}
	return out
}

// Seek delegates to the inner source (converting the frame count by the
// sample-rate ratio) and rebuilds the resampler so its internal filter
// state doesn't straddle the discontinuity.
func (r *Resample) Seek(frame int64) error {
	s, ok := r.inner.(Seekable)
	if !ok {
		return errNotSeekable
	}
	innerFrame := int64(float64(frame) * float64(r.inner.SampleRate()) / float64(r.sampleRate))
	if err := s.Seek(innerFrame); err != nil {
		return err
	}
	r.streamer = &sourceStreamer{src: r.inner}
	r.resampler = beep.Resample(4, beep.SampleRate(r.inner.SampleRate()), beep.SampleRate(r.sampleRate), r.streamer)
	return nil
}
