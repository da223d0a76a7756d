package definitions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// icecastConfig is the shorthand block that expands to a full ffmpeg
// output spec and an Icecast metadata-update URL, sparing a station
// author from spelling out either by hand.
type icecastConfig struct {
	Host     string `yaml:"host"`
	Schema   string `yaml:"schema"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type stationEntry struct {
	Files      []string       `yaml:"files"`
	Output     string         `yaml:"output"`
	Icecast    *icecastConfig `yaml:"icecast"`
	Extensions string         `yaml:"extensions"`
	BufferSize float64        `yaml:"buffersize"`
}

// stationsDoc mirrors the on-disk shape: a top-level "stations" map plus
// shared keys that fill in any field a station leaves unset.
type stationsDoc struct {
	Stations map[string]stationEntry `yaml:"stations"`
	Shared   map[string]interface{}  `yaml:",inline"`
}

// StationConfig is one fully-resolved station: everything cmd/jivebox
// needs to invoke "play" for it.
type StationConfig struct {
	Mount      string
	Key        string // process-supervision identity, "jivebox-<mount>"
	Files      []string
	Output     string
	MetaURL    string
	Extensions string
	BufferSize float64
}

// ListStations returns every station mount defined in path's top-level
// "stations" map.
func ListStations(path string) ([]string, error) {
	doc, err := loadStationsDoc(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(doc.Stations))
	for name := range doc.Stations {
		names = append(names, name)
	}
	return names, nil
}

// ReadStation resolves one station's configuration, expanding its
// "icecast" shorthand (if present) into an ffmpegre: output spec and an
// Icecast admin metadata-update URL.
func ReadStation(path, mount string) (*StationConfig, error) {
	mount = strings.TrimPrefix(mount, "/")

	doc, err := loadStationsDoc(path)
	if err != nil {
		return nil, err
	}
	entry, ok := doc.Stations[mount]
	if !ok {
		return nil, fmt.Errorf("definitions: no station %q in %s", mount, path)
	}
	doc.mergeShared(&entry)

	base := filepath.Dir(path)
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("definitions: %w", err)
	}

	files := make([]string, 0, len(entry.Files))
	for _, f := range entry.Files {
		expanded := f
		if strings.HasPrefix(f, "~/") {
			home, _ := os.UserHomeDir()
			expanded = filepath.Join(home, f[2:])
		}
		files = append(files, filepath.Join(abs, expanded))
	}

	output, metaURL := "", ""
	if entry.Icecast != nil {
		output, metaURL = IcecastShorthand(*entry.Icecast, mount)
	}
	if entry.Output != "" {
		output = entry.Output
	}

	return &StationConfig{
		Mount:      mount,
		Key:        "jivebox-" + mount,
		Files:      files,
		Output:     output,
		MetaURL:    metaURL,
		Extensions: entry.Extensions,
		BufferSize: entry.BufferSize,
	}, nil
}

// IcecastShorthand expands an icecast block into an ffmpegre: output
// spec (PCM -> MP3 -> Icecast source mount, played in real time) and the
// matching Icecast admin metadata-update URL. ffmpeg's icecast muxer
// requires the literal icecast:// scheme; schema only selects http/https
// for the metadata API.
func IcecastShorthand(ic icecastConfig, mount string) (output, metaURL string) {
	host := orDefault(ic.Host, "localhost:8000")
	schema := orDefault(ic.Schema, "http")
	user := orDefault(ic.User, "source")
	password := orDefault(ic.Password, "hackme")

	output = fmt.Sprintf(
		"ffmpegre:-acodec libmp3lame -ab 300k -content_type audio/mpeg -f mp3 icecast://%s:%s@%s/%s",
		user, password, host, mount,
	)
	metaURL = fmt.Sprintf(
		"%s://%s:%s@%s/admin/metadata?mount=%%2F%s&mode=updinfo",
		schema, user, password, host, mount,
	)
	return output, metaURL
}

// mergeShared fills entry's unset fields from the document's top-level
// shared keys, so a stations file can set e.g. one icecast block or one
// buffersize for every mount.
func (d *stationsDoc) mergeShared(entry *stationEntry) {
	sharedStr := func(key string) string {
		v, _ := d.Shared[key].(string)
		return v
	}
	if entry.Output == "" {
		entry.Output = sharedStr("output")
	}
	if entry.Extensions == "" {
		entry.Extensions = sharedStr("extensions")
	}
	if entry.BufferSize == 0 {
		if v, ok := d.Shared["buffersize"].(float64); ok {
			entry.BufferSize = v
		}
	}
	if entry.Icecast == nil {
		if m, ok := d.Shared["icecast"].(map[string]interface{}); ok {
			str := func(k string) string {
				v, _ := m[k].(string)
				return v
			}
			entry.Icecast = &icecastConfig{
				Host:     str("host"),
				Schema:   str("schema"),
				User:     str("user"),
				Password: str("password"),
			}
		}
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func loadStationsDoc(path string) (*stationsDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("definitions: read %s: %w", path, err)
	}
	var doc stationsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("definitions: parse %s: %w", path, err)
	}
	return &doc, nil
}
