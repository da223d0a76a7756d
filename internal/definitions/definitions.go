// Package definitions loads station layout files: a strict YAML format
// describing pools of audio clips (ids, solos, ads, news, time-of-day
// stingers) and a music library with per-track segue timestamps.
package definitions

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// stemPoolKeys are the simple string-list pools: each entry is an
// extensionless path stem, resolved relative to the file's prefix.
var stemPoolKeys = []string{
	"id", "solo", "to-ad", "to-news", "time-morning", "time-evening",
	"general", "ad", "news",
}

// knownKeys is every key a station file may contain.
var knownKeys = append([]string{"name", "prefix", "include", "music", "intro"}, stemPoolKeys...)

var musicRequiredKeys = []string{"path", "title", "artist", "pre", "post"}
var musicOptionalKeys = []string{"album"}
var musicAllKeys = append(append([]string{}, musicRequiredKeys...), musicOptionalKeys...)

// Music is one library track with its segue timestamps.
type Music struct {
	Path   string
	Title  string
	Artist string
	Album  string
	Intros []string // resolved paths of matching song-specific intros
	Pre    float64
	Post   float64
}

// introEntry is a song-specific intro voice-over, declared with the same
// shape as a music entry. It attaches to the music entry sharing its
// title/artist/album/pre/post.
type introEntry struct {
	path                 string
	title, artist, album string
	pre, post            float64
}

// Definitions is the fully-resolved station layout: every path absolute,
// every pool flattened across included files.
type Definitions struct {
	Name  string
	Pools map[string][]string
	Music []Music
}

type rawFile struct {
	Include []string `yaml:"include"`
}

// Load reads and merges every file in files (plus anything they
// transitively include), appending extension ext (default "ogg") to
// every extensionless path stem.
func Load(files []string, ext string) (*Definitions, error) {
	if ext == "" {
		ext = "ogg"
	}
	defs := &Definitions{Pools: make(map[string][]string)}
	for _, k := range stemPoolKeys {
		defs.Pools[k] = nil
	}
	var intros []introEntry

	seen := make(map[string]bool)
	var loadOne func(path string) error
	loadOne = func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("definitions: %s: %w", path, err)
		}
		if seen[abs] {
			return nil
		}
		seen[abs] = true

		raw, entryIntros, err := loadFile(abs, ext, defs)
		if err != nil {
			return err
		}
		intros = append(intros, entryIntros...)

		base := filepath.Dir(abs)
		for _, inc := range raw.Include {
			if err := loadOne(filepath.Join(base, inc)); err != nil {
				return err
			}
		}
		return nil
	}

	for _, f := range files {
		if err := loadOne(f); err != nil {
			return nil, err
		}
	}

	if err := attachIntros(defs, intros); err != nil {
		return nil, err
	}
	return defs, nil
}

func locateFile(base, stem, ext string) string {
	return filepath.Join(base, stem) + "." + ext
}

func parseTimestamp(s string) (float64, error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return 0, fmt.Errorf("definitions: bad timestamp %q, want M:SS[.ff]", s)
	}
	minutes, err := strconv.Atoi(s[:idx])
	if err != nil {
		return 0, fmt.Errorf("definitions: bad timestamp %q: %w", s, err)
	}
	seconds, err := strconv.ParseFloat(s[idx+1:], 64)
	if err != nil {
		return 0, fmt.Errorf("definitions: bad timestamp %q: %w", s, err)
	}
	return float64(minutes)*60 + seconds, nil
}

func loadFile(abs, ext string, defs *Definitions) (*rawFile, []introEntry, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, nil, fmt.Errorf("definitions: read %s: %w", abs, err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("definitions: parse %s: %w", abs, err)
	}

	for k := range doc {
		if !contains(knownKeys, k) {
			return nil, nil, fmt.Errorf("definitions: unknown key %q in %s", k, abs)
		}
	}

	if name, ok := doc["name"].(string); ok && defs.Name == "" {
		defs.Name = name
	}

	base := filepath.Dir(abs)
	if prefix, ok := doc["prefix"].(string); ok && prefix != "" {
		base = filepath.Join(base, prefix)
	}

	for _, key := range stemPoolKeys {
		items, ok := doc[key].([]interface{})
		if !ok {
			continue
		}
		for _, item := range items {
			stem, ok := item.(string)
			if !ok {
				return nil, nil, fmt.Errorf("definitions: %s entries must be strings in %s", key, abs)
			}
			defs.Pools[key] = append(defs.Pools[key], locateFile(base, stem, ext))
		}
	}

	musicEntries, _ := doc["music"].([]interface{})
	for _, entry := range musicEntries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, nil, fmt.Errorf("definitions: music entries must be mappings in %s", abs)
		}
		music, err := parseMusic(m, base, ext, abs)
		if err != nil {
			return nil, nil, err
		}
		defs.Music = append(defs.Music, music)
	}

	var intros []introEntry
	introEntries, _ := doc["intro"].([]interface{})
	for _, entry := range introEntries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			return nil, nil, fmt.Errorf("definitions: intro entries must be mappings in %s", abs)
		}
		music, err := parseMusic(m, base, ext, abs)
		if err != nil {
			return nil, nil, err
		}
		intros = append(intros, introEntry{
			path: music.Path, title: music.Title, artist: music.Artist,
			album: music.Album, pre: music.Pre, post: music.Post,
		})
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("definitions: parse %s: %w", abs, err)
	}
	return &raw, intros, nil
}

func parseMusic(m map[string]interface{}, base, ext, srcFile string) (Music, error) {
	for k := range m {
		if !contains(musicAllKeys, k) {
			return Music{}, fmt.Errorf("definitions: unknown music key %q in %s", k, srcFile)
		}
	}
	for _, k := range musicRequiredKeys {
		if _, ok := m[k]; !ok {
			return Music{}, fmt.Errorf("definitions: music entry missing required key %q in %s", k, srcFile)
		}
	}

	str := func(k string) string {
		v, _ := m[k].(string)
		return v
	}

	pre, err := parseTimestamp(str("pre"))
	if err != nil {
		return Music{}, err
	}
	post, err := parseTimestamp(str("post"))
	if err != nil {
		return Music{}, err
	}

	return Music{
		Path:   locateFile(base, str("path"), ext),
		Title:  str("title"),
		Artist: str("artist"),
		Album:  str("album"),
		Pre:    pre,
		Post:   post,
	}, nil
}

// attachIntros matches each intro entry to exactly one music track by
// equality on every non-path field (title, artist, album, pre, post).
// A track may carry several intros; an intro matching zero or multiple
// tracks is a fatal load-time error.
func attachIntros(defs *Definitions, intros []introEntry) error {
	for _, intro := range intros {
		matched := -1
		for i := range defs.Music {
			m := defs.Music[i]
			if m.Title == intro.title && m.Artist == intro.artist &&
				m.Album == intro.album && m.Pre == intro.pre && m.Post == intro.post {
				if matched >= 0 {
					return fmt.Errorf("definitions: intro %q matches more than one music entry", intro.path)
				}
				matched = i
			}
		}
		if matched < 0 {
			return fmt.Errorf("definitions: intro %q does not match any music entry", intro.path)
		}
		defs.Music[matched].Intros = append(defs.Music[matched].Intros, intro.path)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Lint checks that every file referenced by defs exists, returning the
// paths that don't. An empty result means the definitions are playable.
func Lint(defs *Definitions) []string {
	var missing []string
	check := func(path string) {
		if path == "" {
			return
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			missing = append(missing, path)
		}
	}

	for _, key := range stemPoolKeys {
		for _, path := range defs.Pools[key] {
			check(path)
		}
	}
	for _, m := range defs.Music {
		check(m.Path)
		for _, intro := range m.Intros {
			check(intro)
		}
	}
	return missing
}
