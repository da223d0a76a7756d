package audio

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a channel mix matrix, Out rows by In columns, row-major.
type Matrix struct {
	Out, In int
	Data    []float64
}

func (m Matrix) at(o, i int) float64 { return m.Data[o*m.In+i] }

// stereoToMono is the standard equal-power-free average downmix.
var stereoToMono = Matrix{Out: 1, In: 2, Data: []float64{0.5, 0.5}}

// surround51ToStereo is the ATSC A/52 5.1-to-stereo downmix:
// L' = L + 0.707C + 0.707Ls, R' = R + 0.707C + 0.707Rs, LFE dropped.
// Channel order is L, R, C, LFE, Ls, Rs.
var surround51ToStereo = Matrix{
	Out: 2, In: 6,
	Data: []float64{
		1, 0, 0.707, 0, 0.707, 0,
		0, 1, 0.707, 0, 0, 0.707,
	},
}

// downmixFor returns the known downmix matrix from oldCh to newCh channels.
// Only downmixes are tabulated; upmixes are derived via pseudoInverse.
func downmixFor(newCh, oldCh int) (Matrix, error) {
	switch {
	case newCh == oldCh:
		return identity(newCh), nil
	case newCh == 1 && oldCh == 2:
		return stereoToMono, nil
	case newCh == 2 && oldCh == 6:
		return surround51ToStereo, nil
	case newCh == 1 && oldCh == 6:
		return matMul(stereoToMono, surround51ToStereo), nil
	}
	return Matrix{}, errNoMix(oldCh, newCh)
}

func identity(n int) Matrix {
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		data[i*n+i] = 1
	}
	return Matrix{Out: n, In: n, Data: data}
}

func matMul(a, b Matrix) Matrix {
	am := mat.NewDense(a.Out, a.In, append([]float64(nil), a.Data...))
	bm := mat.NewDense(b.Out, b.In, append([]float64(nil), b.Data...))
	var c mat.Dense
	c.Mul(am, bm)
	rows, cols := c.Dims()
	return Matrix{Out: rows, In: cols, Data: append([]float64(nil), c.RawMatrix().Data...)}
}

// pseudoInverse computes the Moore-Penrose pseudo-inverse of a downmix
// matrix via SVD, so that upmix-after-downmix round-trips approximate
// identity.
func pseudoInverse(m Matrix) Matrix {
	if m.Out == m.In {
		return m
	}

	a := mat.NewDense(m.Out, m.In, append([]float64(nil), m.Data...))
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		// Degenerate matrix; fall back to a zero map rather than panicking
		// on malformed input.
		return Matrix{Out: m.In, In: m.Out, Data: make([]float64, m.In*m.Out)}
	}

	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	sigmaPlus := mat.NewDense(m.In, m.Out, nil)
	for i, s := range values {
		if s > 1e-10 {
			sigmaPlus.Set(i, i, 1/s)
		}
	}

	var tmp, pinv mat.Dense
	tmp.Mul(&v, sigmaPlus)
	pinv.Mul(&tmp, u.T())

	return Matrix{Out: m.In, In: m.Out, Data: append([]float64(nil), pinv.RawMatrix().Data...)}
}

// normalizeMatrix scales a matrix down, if needed, so that no output
// channel can exceed [-1, 1] given worst-case [-1, 1] input.
func normalizeMatrix(m Matrix) Matrix {
	worst := 0.0
	for o := 0; o < m.Out; o++ {
		sum := 0.0
		for i := 0; i < m.In; i++ {
			sum += math.Abs(m.at(o, i))
		}
		if sum > worst {
			worst = sum
		}
	}
	if worst <= 1 || worst == 0 {
		return m
	}
	out := Matrix{Out: m.Out, In: m.In, Data: append([]float64(nil), m.Data...)}
	for i := range out.Data {
		out.Data[i] /= worst
	}
	return out
}

// Mix is a Source that applies a channel mix matrix to an inner source.
type Mix struct {
	base
	inner Source
	mix   Matrix
}

// NewMix wraps inner with the given mix matrix. If normalize is set, the
// matrix is scaled so worst-case output stays within [-1, 1].
func NewMix(inner Source, mix Matrix, normalize bool) (*Mix, error) {
	if mix.In != inner.Channels() {
		return nil, errNoMix(inner.Channels(), mix.Out)
	}
	if normalize {
		mix = normalizeMatrix(mix)
	}
	m := &Mix{inner: inner, mix: mix}
	m.sampleRate = inner.SampleRate()
	m.channels = mix.Out
	m.size, m.sizeKnown = inner.Size()
	return m, nil
}

func (m *Mix) Allocate(frames int) {
	m.inner.Allocate(frames)
	m.base.Allocate(frames)
}

func (m *Mix) Fill(max int) *Buffer {
	if m.buffer == nil {
		m.Allocate(max)
	}
	if max > m.buffer.Frames() {
		max = m.buffer.Frames()
	}
	in := m.inner.Fill(max)
	n := in.Frames()
	out := m.buffer.Slice(n)
	for f := 0; f < n; f++ {
		for o := 0; o < m.mix.Out; o++ {
			var sum float32
			for i := 0; i < m.mix.In; i++ {
				sum += float32(m.mix.at(o, i)) * in.Data[f*m.mix.In+i]
			}
			out.Data[f*m.mix.Out+o] = sum
		}
	}
	return out
}

// Seek delegates to the inner source if it is seekable; a channel remix
// does not change the frame position.
func (m *Mix) Seek(frame int64) error {
	s, ok := m.inner.(Seekable)
	if !ok {
		return errNotSeekable
	}
	return s.Seek(frame)
}
