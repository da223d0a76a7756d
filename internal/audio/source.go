// Package audio implements the pull-based source graph: file decoding,
// resampling, channel remixing and loudness normalization. Every node
// satisfies Source; fill is the sole place time advances, and a
// zero-length fill is the sole end-of-stream signal.
package audio

import "fmt"

// Buffer is an owned block of interleaved float32 PCM: frame f, channel c
// lives at Data[f*Channels+c].
type Buffer struct {
	Channels int
	Data     []float32
}

// NewBuffer allocates a zeroed buffer with capacity for frames frames.
func NewBuffer(frames, channels int) *Buffer {
	return &Buffer{Channels: channels, Data: make([]float32, frames*channels)}
}

// Frames reports how many frames the buffer currently holds.
func (b *Buffer) Frames() int {
	if b == nil || b.Channels == 0 {
		return 0
	}
	return len(b.Data) / b.Channels
}

// Slice returns a prefix view of the buffer sharing the backing array,
// clamped to the buffer's own length.
func (b *Buffer) Slice(frames int) *Buffer {
	if frames < 0 {
		frames = 0
	}
	if frames > b.Frames() {
		frames = b.Frames()
	}
	return &Buffer{Channels: b.Channels, Data: b.Data[:frames*b.Channels]}
}

// Clone copies the buffer into a freshly allocated backing array. Callers
// that hand a buffer across a goroutine boundary (e.g. to an async sink
// pipeline) must clone it first: Source implementations are free to reuse
// their internal buffer's backing array on every Fill call.
func (b *Buffer) Clone() *Buffer {
	data := make([]float32, len(b.Data))
	copy(data, b.Data)
	return &Buffer{Channels: b.Channels, Data: data}
}

// Zero clears every sample in the buffer.
func (b *Buffer) Zero() {
	for i := range b.Data {
		b.Data[i] = 0
	}
}

// Add mixes src into b in place, starting at frame offset. src and b must
// share the same channel count.
func (b *Buffer) Add(offset int, src *Buffer) {
	base := offset * b.Channels
	for i, v := range src.Data {
		b.Data[base+i] += v
	}
}

// From returns a suffix view starting at frame offset, sharing the
// backing array. Offset is clamped to the buffer's own length.
func (b *Buffer) From(offset int) *Buffer {
	if offset < 0 {
		offset = 0
	}
	if offset > b.Frames() {
		offset = b.Frames()
	}
	return &Buffer{Channels: b.Channels, Data: b.Data[offset*b.Channels:]}
}

// Source is a pull-based audio producer: callers size its internal buffer
// with Allocate, then repeatedly request frames with Fill. A Fill that
// returns zero frames is the sole end-of-stream signal.
type Source interface {
	SampleRate() int
	Channels() int
	// Size reports the source's total length in frames, if known.
	Size() (frames int64, known bool)
	Allocate(frames int)
	Fill(max int) *Buffer
}

// Seekable is implemented by sources that wrap seekable underlying storage.
type Seekable interface {
	Seek(frame int64) error
}

// base holds the fields common to every concrete Source.
type base struct {
	sampleRate int
	channels   int
	size       int64
	sizeKnown  bool
	buffer     *Buffer
}

func (b *base) SampleRate() int { return b.sampleRate }
func (b *base) Channels() int   { return b.channels }
func (b *base) Size() (int64, bool) {
	return b.size, b.sizeKnown
}
func (b *base) Allocate(frames int) {
	b.buffer = NewBuffer(frames, b.channels)
}

// Reformat composes downmix, resample and upmix (in that order) so src
// matches the requested sample rate and channel count. A zero value for
// either argument leaves that dimension unchanged.
func Reformat(src Source, sampleRate, channels int) (Source, error) {
	cur := src

	if channels > 0 && channels < cur.Channels() {
		mix, err := downmixFor(channels, cur.Channels())
		if err != nil {
			return nil, err
		}
		cur, err = NewMix(cur, mix, true)
		if err != nil {
			return nil, err
		}
	}

	if sampleRate > 0 && sampleRate != cur.SampleRate() {
		cur = NewResample(cur, sampleRate)
	}

	if channels > 0 && channels > cur.Channels() {
		down, err := downmixFor(cur.Channels(), channels)
		if err != nil {
			return nil, err
		}
		up := pseudoInverse(down)
		cur, err = NewMix(cur, up, false)
		if err != nil {
			return nil, err
		}
	}

	return cur, nil
}

// ReformatLike reformats src to match like's rate and channel count.
func ReformatLike(src, like Source) (Source, error) {
	return Reformat(src, like.SampleRate(), like.Channels())
}

func errNoMix(oldCh, newCh int) error {
	return fmt.Errorf("audio: no channel mix defined for %d channel(s) to %d channel(s)", oldCh, newCh)
}

var errNotSeekable = fmt.Errorf("audio: source is not seekable")
