package radio

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/linuxmatters/jivebox/internal/audio"
	"github.com/linuxmatters/jivebox/internal/coroutine"
	"github.com/linuxmatters/jivebox/internal/definitions"
	"github.com/linuxmatters/jivebox/internal/scheduler"
)

func TestChooseEmptyPoolReturnsNegativeOne(t *testing.T) {
	r := &Radio{mru: make(map[string][]string)}
	assert.Equal(t, -1, r.choose("k", nil))
}

func TestChooseSinglePoolAlwaysReturnsOnlyEntry(t *testing.T) {
	r := &Radio{mru: make(map[string][]string)}
	ids := []string{"only"}
	for i := 0; i < 5; i++ {
		assert.Equal(t, 0, r.choose("k", ids))
	}
}

func TestChooseNoRepeatAlternatesForPoolOfTwo(t *testing.T) {
	r := &Radio{mru: make(map[string][]string)}
	ids := []string{"a", "b"}
	first := r.choose("k", ids)
	second := r.choose("k", ids)
	third := r.choose("k", ids)
	assert.NotEqual(t, first, second)
	assert.Equal(t, first, third)
}

// With a pool of four and noRepeatPercent 0.5, the MRU window holds two
// entries, so no pick can equal either of the previous two.
func TestChooseNeverRepeatsWithinNoRepeatWindow(t *testing.T) {
	r := &Radio{mru: make(map[string][]string)}
	ids := []string{"a", "b", "c", "d"}
	var picks []int
	for i := 0; i < 20; i++ {
		picks = append(picks, r.choose("k", ids))
	}
	for i := 2; i < len(picks); i++ {
		assert.NotEqual(t, picks[i], picks[i-1])
		assert.NotEqual(t, picks[i], picks[i-2])
	}
}

func TestChoosePathEmptyPoolReturnsEmptyString(t *testing.T) {
	r := &Radio{
		mru:  make(map[string][]string),
		defs: &definitions.Definitions{Pools: map[string][]string{}},
	}
	assert.Equal(t, "", r.choosePath("id"))
}

func TestChooseMusicEmptyPoolReturnsNil(t *testing.T) {
	r := &Radio{mru: make(map[string][]string), defs: &definitions.Definitions{}}
	assert.Nil(t, r.chooseMusic())
}

func TestSetMetadataOverridesSongAndPreservesQuery(t *testing.T) {
	var got *url.URL
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		u := *req.URL
		got = &u
	}))
	defer srv.Close()

	r := &Radio{
		cfg:     Config{MetaURL: srv.URL + "/admin/metadata?mount=/s&mode=updinfo&song=old"},
		defs:    &definitions.Definitions{Name: "Station"},
		mru:     make(map[string][]string),
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	r.setMetadata(segmentMeta{Artist: "Artist", Title: "X"})

	require.NotNil(t, got)
	q := got.Query()
	assert.Equal(t, "Station - Artist - X", q.Get("song"))
	assert.Equal(t, "/s", q.Get("mount"))
	assert.Equal(t, "updinfo", q.Get("mode"))
}

// toneSource emits a constant value for a fixed number of frames at
// 1000 Hz stereo, making seconds<->frames arithmetic in the segue
// scenarios exact.
type toneSource struct {
	total, pos int
	value      float32
}

func (s *toneSource) SampleRate() int     { return 1000 }
func (s *toneSource) Channels() int       { return 2 }
func (s *toneSource) Size() (int64, bool) { return int64(s.total), true }
func (s *toneSource) Allocate(int)        {}
func (s *toneSource) Fill(max int) *audio.Buffer {
	n := max
	if n > s.total-s.pos {
		n = s.total - s.pos
	}
	if n < 0 {
		n = 0
	}
	buf := audio.NewBuffer(n, 2)
	for i := range buf.Data {
		buf.Data[i] = s.value
	}
	s.pos += n
	return buf
}

func newSegueRadio(sources map[string]audio.Source) (*Radio, *scheduler.Scheduler) {
	r := &Radio{
		mru:  make(map[string][]string),
		defs: &definitions.Definitions{Name: "Station"},
	}
	r.open = func(path string) (audio.Source, error) {
		src, ok := sources[path]
		if !ok {
			return nil, fmt.Errorf("no source %q", path)
		}
		return src, nil
	}
	root := scheduler.New(1000, 2)
	r.music = root.Subscheduler()
	r.talk = root.Subscheduler()
	return r, root
}

// render pulls seconds one-second blocks from root, padding with silence
// wherever the graph reported end-of-stream, so sample indexes stay
// aligned to wall time.
func render(root *scheduler.Scheduler, seconds int) []float32 {
	out := make([]float32, 0, seconds*2000)
	for i := 0; i < seconds; i++ {
		buf := root.Fill(1000)
		out = append(out, buf.Data...)
		for len(out) < (i+1)*2000 {
			out = append(out, 0)
		}
	}
	return out
}

func sampleAt(out []float32, tSeconds float64) float32 {
	return out[int(tSeconds*1000)*2]
}

// Seamless segue: the previous song's outro (softTime 5) is long enough
// to host the over-talk, so the next song starts right at the segue
// point, ducks to half volume while the voice-over plays, and restores
// afterwards.
func TestGoSoftSeamlessSegue(t *testing.T) {
	r, root := newSegueRadio(map[string]audio.Source{
		"main": &toneSource{total: 125000, value: 1.0},
		"over": &toneSource{total: 2000, value: 0.25},
	})

	post := 120.0
	ret := -1.0
	coroutine.Run(root, func(yield coroutine.Yield) {
		ret = r.goSoft(yield, 5, "main", "over", segmentMeta{Title: "B"}, 4, &post, false)
	})
	out := render(root, 130)

	assert.Equal(t, float32(0), sampleAt(out, 4.5), "silence before the song starts")
	assert.InDelta(t, 1.0, sampleAt(out, 5.5), 1e-6, "song at full volume before the duck")
	assert.InDelta(t, 0.75, sampleAt(out, 7.0), 1e-6, "ducked song plus voice-over")
	assert.InDelta(t, 1.0, sampleAt(out, 9.5), 1e-6, "volume restored after the voice-over")
	assert.InDelta(t, 5.0, ret, 1e-9, "returned soft time is md - post")
}

// Forced break: softTime 0 can't host a 3s over-talk, but force inserts
// silence so it fits. Voice-over plays in [0.5, 3.5]; the ad starts at 4.
func TestGoSoftForcedBreakInsertsSilence(t *testing.T) {
	r, root := newSegueRadio(map[string]audio.Source{
		"ad":    &toneSource{total: 30000, value: 1.0},
		"to-ad": &toneSource{total: 3000, value: 0.25},
	})

	ret := -1.0
	coroutine.Run(root, func(yield coroutine.Yield) {
		ret = r.goSoft(yield, 0, "ad", "to-ad", segmentMeta{Title: "Advertisement"}, 0, nil, true)
	})
	out := render(root, 40)

	assert.InDelta(t, 0.25, sampleAt(out, 1.0), 1e-6, "voice-over alone over the inserted silence")
	assert.Equal(t, float32(0), sampleAt(out, 3.75), "gap between voice-over end and ad start")
	assert.InDelta(t, 1.0, sampleAt(out, 5.0), 1e-6, "ad playing at full volume")
	assert.InDelta(t, 0.0, ret, 1e-9)
}

// A track whose outro starts immediately (post explicitly 0:00) keeps
// that value: the whole duration becomes the next segment's overlap
// budget, unlike a segment with no post at all, which defaults post to
// the full duration and returns 0.
func TestGoSoftKeepsExplicitZeroPost(t *testing.T) {
	r, root := newSegueRadio(map[string]audio.Source{
		"main": &toneSource{total: 30000, value: 1.0},
	})

	post := 0.0
	ret := -1.0
	coroutine.Run(root, func(yield coroutine.Yield) {
		ret = r.goSoft(yield, 0, "main", "", segmentMeta{Title: "A"}, 0, &post, false)
	})
	render(root, 35)

	assert.InDelta(t, 30.0, ret, 1e-9)
}

// Same break without force: the over-talk is skipped entirely and the
// main audio starts at softTime.
func TestGoSoftSkipsOverTalkWithoutForce(t *testing.T) {
	r, root := newSegueRadio(map[string]audio.Source{
		"ad":    &toneSource{total: 30000, value: 1.0},
		"to-ad": &toneSource{total: 3000, value: 0.25},
	})

	coroutine.Run(root, func(yield coroutine.Yield) {
		r.goSoft(yield, 0, "ad", "to-ad", segmentMeta{Title: "Advertisement"}, 0, nil, false)
	})
	out := render(root, 40)

	assert.InDelta(t, 1.0, sampleAt(out, 0.25), 1e-6, "main starts immediately at softTime")
	assert.InDelta(t, 1.0, sampleAt(out, 1.0), 1e-6, "no voice-over mixed in")
}

func TestChooseMusicUsesPathAsIdentity(t *testing.T) {
	r := &Radio{
		mru: make(map[string][]string),
		defs: &definitions.Definitions{
			Music: []definitions.Music{
				{Path: "a.ogg", Title: "A"},
				{Path: "b.ogg", Title: "B"},
			},
		},
	}
	m := r.chooseMusic()
	if assert.NotNil(t, m) {
		assert.Contains(t, []string{"a.ogg", "b.ogg"}, m.Path)
	}
	assert.Equal(t, []string{m.Path}, r.mru["music"])
}
