// Package radio implements the generative program: track selection with
// a no-repeat discipline, soft segues between segments, and the
// forever-looping schedule of music/ad/news/id/solo segments. Segments
// compose as ordinary nested calls over a coroutine.Yield, each
// returning the overlap budget the next segment may consume.
package radio

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/linuxmatters/jivebox/internal/audio"
	"github.com/linuxmatters/jivebox/internal/coroutine"
	"github.com/linuxmatters/jivebox/internal/definitions"
	"github.com/linuxmatters/jivebox/internal/logging"
	"github.com/linuxmatters/jivebox/internal/metrics"
	"github.com/linuxmatters/jivebox/internal/scheduler"
)

// Config carries the station's run-time knobs.
type Config struct {
	DefinitionFiles []string
	Extensions      string
	MetaURL         string
	Loudness        float64 // target integrated loudness, LUFS; 0 means use the default
	Metrics         *metrics.Metrics
}

const (
	padding         = 0.5
	overVolume      = 0.5
	noRepeatPercent = 0.5
	introChance     = 0.5
	songsPerBreak   = 12
	defaultLoudness = -14.0
)

// Radio holds the station's live definitions, per-pool MRU state, and
// the two sub-schedulers (music, talk) it drives.
type Radio struct {
	cfg  Config
	defs *definitions.Definitions

	mru map[string][]string // pool key -> most-recently-used identifiers, front = newest

	music *scheduler.Scheduler
	talk  *scheduler.Scheduler

	// open produces the source for a segment's audio file. Tests swap it
	// for a synthetic-source factory.
	open func(path string) (audio.Source, error)

	limiter *rate.Limiter
}

// New loads definitions and constructs a Radio ready to be driven by Go.
func New(cfg Config) (*Radio, error) {
	if cfg.Loudness == 0 {
		cfg.Loudness = defaultLoudness
	}
	defs, err := definitions.Load(cfg.DefinitionFiles, cfg.Extensions)
	if err != nil {
		return nil, fmt.Errorf("radio: %w", err)
	}
	r := &Radio{
		cfg:     cfg,
		defs:    defs,
		mru:     make(map[string][]string),
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	r.open = r.openNormalized
	return r, nil
}

// reload re-reads the station definitions. A failure after the first
// successful load is logged and the previous definitions are kept.
func (r *Radio) reload() {
	defs, err := definitions.Load(r.cfg.DefinitionFiles, r.cfg.Extensions)
	if err != nil {
		logging.Warn("radio: reload failed, keeping previous definitions: %v", err)
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.ReloadFailures.Inc()
		}
		return
	}
	r.defs = defs
}

// choose implements the no-repeat discipline over a slice of
// identifiers, returning the chosen index or -1 if the pool is empty.
func (r *Radio) choose(key string, ids []string) int {
	if len(ids) == 0 {
		return -1
	}
	noRepeat := int(float64(len(ids)) * noRepeatPercent)
	used := r.mru[key]
	for len(used) > noRepeat {
		used = used[:len(used)-1]
	}

	inUsed := func(id string) bool {
		for _, u := range used {
			if u == id {
				return true
			}
		}
		return false
	}

	var eligible []int
	for i, id := range ids {
		if !inUsed(id) {
			eligible = append(eligible, i)
		}
	}
	for len(eligible) == 0 {
		// Every entry is recently used: release the oldest and retry.
		oldest := used[len(used)-1]
		used = used[:len(used)-1]
		eligible = nil
		for i, id := range ids {
			if id == oldest {
				eligible = append(eligible, i)
			}
		}
	}

	chosen := eligible[rand.Intn(len(eligible))]
	used = append([]string{ids[chosen]}, used...)
	r.mru[key] = used
	return chosen
}

// choosePath picks one entry from a plain path-stem pool, returning "" if
// the pool is empty.
func (r *Radio) choosePath(key string) string {
	ids := r.defs.Pools[key]
	i := r.choose(key, ids)
	if i < 0 {
		return ""
	}
	return ids[i]
}

// chooseMusic picks one music track, using track path as identity.
func (r *Radio) chooseMusic() *definitions.Music {
	ids := make([]string, len(r.defs.Music))
	for i, m := range r.defs.Music {
		ids[i] = m.Path
	}
	i := r.choose("music", ids)
	if i < 0 {
		return nil
	}
	return &r.defs.Music[i]
}

// segmentMeta is the metadata announced when a segment's main audio
// starts: station name and, if this segment carries them, artist/title.
type segmentMeta struct {
	Artist string
	Title  string
}

// setMetadata prints "station - artist - title" (omitting empty parts)
// and, if a metadata URL is configured, pushes it via HTTP GET with the
// song query parameter overridden.
func (r *Radio) setMetadata(meta segmentMeta) {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.defs.Name, meta.Artist, meta.Title} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	song := strings.Join(parts, " - ")
	if song == "" {
		song = "NO INFORMATION"
	}
	logging.NowPlaying(song)

	if r.cfg.MetaURL == "" {
		return
	}
	if !r.limiter.Allow() {
		return
	}

	u, err := url.Parse(r.cfg.MetaURL)
	if err != nil {
		logging.Warn("radio: bad metadata URL: %v", err)
		return
	}
	q := u.Query()
	q.Set("song", song)
	u.RawQuery = q.Encode()

	resp, err := http.Get(u.String())
	if err != nil {
		logging.Warn("radio: metadata push failed: %v", err)
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.MetadataFailures.Inc()
		}
		return
	}
	resp.Body.Close()
}

// openNormalized opens path and wraps it in a Normalize targeting the
// station's loudness.
func (r *Radio) openNormalized(path string) (audio.Source, error) {
	f, err := audio.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return audio.NewNormalize(f, r.cfg.Loudness), nil
}

func sourceDurationSeconds(src audio.Source) float64 {
	if sz, ok := src.Size(); ok {
		return float64(sz) / float64(src.SampleRate())
	}
	return 0
}

// goSoft is the segment core. Given a segment with main audio of
// duration md and voice-over of duration od, and music's instrumental
// intro-end pre and outro-start post, it schedules main (and, unless
// skipped, over) onto the music/talk sub-schedulers and yields until the
// point where the next segment's soft segue may begin. softTime is
// measured from this segment's start; the returned value is the overlap
// budget (md - post) available to the next segment. A nil post means
// the segment has no outro region and defaults to the full duration; an
// explicit zero is a real value (outro starts immediately) and is kept.
func (r *Radio) goSoft(yield coroutine.Yield, softTime float64, mainPath, overPath string, meta segmentMeta, pre float64, post *float64, force bool) float64 {
	if mainPath == "" {
		return softTime
	}

	main, err := r.open(mainPath)
	if err != nil {
		logging.Warn("radio: failed to open %s: %v", mainPath, err)
		return softTime
	}
	main, err = audio.ReformatLike(main, r.music)
	if err != nil {
		logging.Warn("radio: cannot reformat %s onto music bus: %v", mainPath, err)
		return softTime
	}
	md := sourceDurationSeconds(main)
	postSec := md
	if post != nil {
		postSec = *post
	}

	var over audio.Source
	var overDuration float64
	skipOver := overPath == ""
	if !skipOver {
		over, err = r.open(overPath)
		if err != nil {
			logging.Warn("radio: failed to open %s: %v", overPath, err)
			skipOver = true
		} else if over, err = audio.ReformatLike(over, r.talk); err != nil {
			logging.Warn("radio: cannot reformat %s onto talk bus: %v", overPath, err)
			skipOver = true
		} else {
			overDuration = sourceDurationSeconds(over)
		}
	}

	overStartTime := 0.0
	if !skipOver {
		overStartTime = pre - (overDuration + 2*padding)
	}

	var mainStart float64
	switch {
	case softTime >= -overStartTime:
		mainStart = softTime
	case force:
		mainStart = -overStartTime
	default:
		mainStart = softTime
		skipOver = true
	}
	overStartTime += mainStart

	r.music.AddSource(mainStart, main)
	r.music.AddCallback(mainStart, func(*scheduler.Scheduler) {
		r.setMetadata(meta)
	})

	if skipOver {
		yield(mainStart + postSec)
		return md - postSec
	}

	r.music.SetVolume(overStartTime, overVolume, padding)
	r.talk.AddSource(overStartTime+padding, over)
	yield(overStartTime + padding + overDuration)

	r.music.SetVolume(0, 1.0, padding)
	yield(mainStart + postSec - (overStartTime + padding + overDuration))

	return md - postSec
}

func (r *Radio) goBreak(yield coroutine.Yield, softTime float64, mainKey, overKey, title string) float64 {
	main := r.choosePath(mainKey)
	over := r.choosePath(overKey)
	if main == "" {
		return softTime
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Segues.WithLabelValues(mainKey).Inc()
	}
	return r.goSoft(yield, softTime, main, over, segmentMeta{Title: title}, 0, nil, true)
}

func (r *Radio) goID(yield coroutine.Yield, softTime float64) float64 {
	idPath := r.choosePath("id")
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Segues.WithLabelValues("id").Inc()
	}
	return r.goSoft(yield, softTime, idPath, "", segmentMeta{Title: "Identification"}, 0, nil, false)
}

func (r *Radio) goSolo(yield coroutine.Yield, softTime float64) float64 {
	solo := r.choosePath("solo")
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Segues.WithLabelValues("solo").Inc()
	}
	return r.goSoft(yield, softTime, solo, "", segmentMeta{Title: "Monologue"}, 0, nil, false)
}

func (r *Radio) goMusic(yield coroutine.Yield, softTime float64) float64 {
	r.reload()

	m := r.chooseMusic()
	if m == nil {
		return softTime
	}

	over := ""
	if rand.Float64() < introChance {
		candidates := []string{r.choosePath("general")}

		hour := time.Now().Hour()
		if hour >= 4 && hour < 12 {
			candidates = append(candidates, r.choosePath("time-morning"))
		}
		if hour >= 17 && hour < 24 {
			candidates = append(candidates, r.choosePath("time-evening"))
		}
		if len(m.Intros) > 0 {
			candidates = append(candidates, m.Intros[rand.Intn(len(m.Intros))])
		}

		var nonEmpty []string
		for _, c := range candidates {
			if c != "" {
				nonEmpty = append(nonEmpty, c)
			}
		}
		if len(nonEmpty) > 0 {
			over = nonEmpty[rand.Intn(len(nonEmpty))]
		}
	}

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Segues.WithLabelValues("music").Inc()
	}
	return r.goSoft(yield, softTime, m.Path, over, segmentMeta{Artist: m.Artist, Title: m.Title}, m.Pre, &m.Post, false)
}

// Go is the top-level coroutine body: it creates the music/talk
// sub-schedulers on root and loops forever, alternating ad-breaks and
// news-breaks, each preceded by songsPerBreak songs and followed by an
// ID jingle and a host monologue, with padding silence between segments.
func (r *Radio) Go(root *scheduler.Scheduler) {
	r.music = root.Subscheduler()
	r.talk = root.Subscheduler()

	coroutine.Run(root, func(yield coroutine.Yield) {
		softTime := 0.0
		breaks := []struct {
			mainKey, overKey, title string
		}{
			{"ad", "to-ad", "Advertisement"},
			{"news", "to-news", "News"},
		}
		for {
			for _, b := range breaks {
				for i := 0; i < songsPerBreak; i++ {
					softTime = r.goMusic(yield, softTime)
					yield(padding)
				}
				softTime = r.goBreak(yield, softTime, b.mainKey, b.overKey, b.title)
				yield(padding)
				softTime = r.goID(yield, softTime)
				yield(padding)
				softTime = r.goSolo(yield, softTime)
				yield(padding)
			}
		}
	})
}
