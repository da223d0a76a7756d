package audio

import "math"

// biquad is a direct-form-II transposed IIR filter, used to build the
// ITU-R BS.1770 K-weighting pre-filter.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	z1, z2             float64
}

func (f *biquad) step(x float64) float64 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

// kWeighting builds the two-stage K-weighting filter (a high shelf
// followed by a high pass) for the given sample rate, per the filter
// design in ITU-R BS.1770-4 / libebur128's generalization to arbitrary
// sample rates.
func kWeighting(sampleRate int) (stage1, stage2 biquad) {
	fs := float64(sampleRate)

	// Stage 1: high shelf boosting above ~1.7kHz.
	f0 := 1681.974450955533
	g := 3.999843853973347
	q := 0.7071752369554196

	k := math.Tan(math.Pi * f0 / fs)
	vh := math.Pow(10.0, g/20.0)
	vb := math.Pow(vh, 0.4996667741545416)

	a0 := 1.0 + k/q + k*k
	stage1 = biquad{
		b0: (vh + vb*k/q + k*k) / a0,
		b1: 2.0 * (k*k - vh) / a0,
		b2: (vh - vb*k/q + k*k) / a0,
		a1: 2.0 * (k*k - 1.0) / a0,
		a2: (1.0 - k/q + k*k) / a0,
	}

	// Stage 2: high pass below ~38Hz.
	f0 = 38.13547087613982
	q = 0.5003270373238773
	k = math.Tan(math.Pi * f0 / fs)

	a0b := 1.0 + k/q + k*k
	stage2 = biquad{
		b0: 1.0,
		b1: -2.0,
		b2: 1.0,
		a1: 2.0 * (k*k - 1.0) / a0b,
		a2: (1.0 - k/q + k*k) / a0b,
	}

	return stage1, stage2
}

// loudnessMeter accumulates gated BS.1770 integrated loudness over a
// stream of blocks, without requiring the whole signal in memory.
type loudnessMeter struct {
	sampleRate int
	channels   int
	filters    []struct{ s1, s2 biquad }

	window    []float64 // ring of per-sample weighted energy sums, one 400ms window
	windowLen int
	pos       int
	filled    int

	hopFrames   int
	sinceHop    int
	blockEnergy []float64
}

func newLoudnessMeter(sampleRate, channels int) *loudnessMeter {
	m := &loudnessMeter{sampleRate: sampleRate, channels: channels}
	m.filters = make([]struct{ s1, s2 biquad }, channels)
	for c := range m.filters {
		m.filters[c].s1, m.filters[c].s2 = kWeighting(sampleRate)
	}
	m.windowLen = int(0.4 * float64(sampleRate))
	m.hopFrames = m.windowLen / 4 // 100ms hop -> 75% overlap between 400ms blocks
	m.window = make([]float64, m.windowLen)
	return m
}

// add processes one block of interleaved float32 samples.
func (m *loudnessMeter) add(buf *Buffer) {
	n := buf.Frames()
	for f := 0; f < n; f++ {
		energy := 0.0
		for c := 0; c < m.channels; c++ {
			x := float64(buf.Data[f*m.channels+c])
			y := m.filters[c].s1.step(x)
			y = m.filters[c].s2.step(y)
			energy += y * y
		}
		m.window[m.pos] = energy
		m.pos = (m.pos + 1) % m.windowLen
		if m.filled < m.windowLen {
			m.filled++
		}
		m.sinceHop++
		if m.sinceHop >= m.hopFrames && m.filled == m.windowLen {
			m.sinceHop = 0
			m.blockEnergy = append(m.blockEnergy, m.meanWindow())
		}
	}
}

func (m *loudnessMeter) meanWindow() float64 {
	sum := 0.0
	for _, v := range m.window {
		sum += v
	}
	return sum / float64(m.windowLen)
}

// integrated computes the gated integrated loudness in LUFS, per the
// two-stage absolute/relative gating described in BS.1770-4.
func (m *loudnessMeter) integrated() float64 {
	if len(m.blockEnergy) == 0 {
		return -70
	}

	const absoluteGate = -70.0
	var above []float64
	for _, e := range m.blockEnergy {
		if l := energyToLUFS(e); l >= absoluteGate {
			above = append(above, e)
		}
	}
	if len(above) == 0 {
		return -70
	}

	relativeGate := energyToLUFS(mean(above)) - 10.0
	var gated []float64
	for _, e := range above {
		if energyToLUFS(e) >= relativeGate {
			gated = append(gated, e)
		}
	}
	if len(gated) == 0 {
		gated = above
	}

	return energyToLUFS(mean(gated))
}

func energyToLUFS(e float64) float64 {
	if e <= 0 {
		return -math.Inf(1)
	}
	return -0.691 + 10*math.Log10(e)
}

func mean(vs []float64) float64 {
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// measureLoudness drains src completely (via Fill) and returns its
// integrated loudness in LUFS. The caller is responsible for rewinding
// src afterwards if it needs to be read again.
func measureLoudness(src Source) float64 {
	const blockFrames = 4096
	src.Allocate(blockFrames)
	meter := newLoudnessMeter(src.SampleRate(), src.Channels())
	for {
		buf := src.Fill(blockFrames)
		if buf.Frames() == 0 {
			break
		}
		meter.add(buf)
	}
	return meter.integrated()
}
