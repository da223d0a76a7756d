// Command jivebox is the generative radio engine's CLI: lint station
// definitions, play a station to a sink, or supervise a set of stations
// as background processes.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/linuxmatters/jivebox/internal/definitions"
	"github.com/linuxmatters/jivebox/internal/logging"
	"github.com/linuxmatters/jivebox/internal/metrics"
	"github.com/linuxmatters/jivebox/internal/radio"
	"github.com/linuxmatters/jivebox/internal/scheduler"
	"github.com/linuxmatters/jivebox/internal/sinks"
	"github.com/linuxmatters/jivebox/internal/supervise"
)

const (
	sampleRate        = 48000
	channels          = 2
	defaultBufferSecs = 0.5
)

var (
	okStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00AA00"))
	notFoundStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A40000"))
)

type lintCmd struct {
	Extensions  string   `short:"e" help:"Comma-separated audio extensions; only the first is used (default ogg)."`
	Definitions []string `arg:"" name:"definitions" type:"existingfile" help:"Station definition files."`
}

func (c *lintCmd) Run() error {
	defs, err := definitions.Load(c.Definitions, firstExt(c.Extensions))
	if err != nil {
		return err
	}
	missing := definitions.Lint(defs)
	for _, path := range missing {
		fmt.Println(notFoundStyle.Render("NOT FOUND: " + path))
	}
	if len(missing) > 0 {
		os.Exit(1)
	}
	fmt.Println(okStyle.Render("ok!"))
	return nil
}

type playCmd struct {
	Output      string   `short:"o" help:"Output sink: file path, -, ffmpeg:ARGS, ffmpegre:ARGS, or omit for the live device."`
	Extensions  string   `short:"e" help:"Comma-separated audio extensions; only the first is used (default ogg)."`
	MetaURL     string   `short:"m" name:"meta-url" env:"JIVEBOX_META_URL" help:"URL pushed (as ?song=...) whenever a segment's metadata changes."`
	BufferSecs  float64  `short:"s" name:"buffer-size" default:"0.5" help:"Seconds of audio produced per fill, i.e. the sink's block size."`
	Loudness    float64  `env:"JIVEBOX_LOUDNESS" help:"Target integrated loudness in LUFS." default:"-14"`
	MetricsAddr string   `name:"metrics-addr" env:"JIVEBOX_METRICS_ADDR" help:"If set, serve Prometheus metrics on this host:port."`
	Definitions []string `arg:"" name:"definitions" type:"existingfile" help:"Station definition files."`
}

func (c *playCmd) Run() error {
	m := metrics.New()
	if c.MetricsAddr != "" {
		go func() {
			if err := m.Serve(c.MetricsAddr); err != nil {
				logging.Error("metrics: server stopped: %v", err)
			}
		}()
	}

	blockFrames := int(c.BufferSecs * sampleRate)
	if blockFrames <= 0 {
		blockFrames = int(defaultBufferSecs * sampleRate)
	}

	r, err := radio.New(radio.Config{
		DefinitionFiles: c.Definitions,
		Extensions:      firstExt(c.Extensions),
		MetaURL:         c.MetaURL,
		Loudness:        c.Loudness,
		Metrics:         m,
	})
	if err != nil {
		return fmt.Errorf("jivebox: %w", err)
	}

	sink, err := sinks.Open(c.Output, sampleRate, channels)
	if err != nil {
		return fmt.Errorf("jivebox: %w", err)
	}

	root := scheduler.New(sampleRate, channels)
	r.Go(root)

	pipeline := sinks.NewPipeline(sink)
	defer pipeline.Close()

	for {
		buf := root.Fill(blockFrames)
		if buf.Frames() == 0 {
			// The whole graph reported end-of-stream: nothing active,
			// nothing pending, no callbacks. The sink loop exits.
			return nil
		}
		pipeline.Push(buf)

		leaves, subs, _, _ := root.Stats()
		m.ActiveLeaves.Set(float64(leaves))
		m.ActiveSubschedulers.Set(float64(subs))
		m.BlocksProduced.Inc()
	}
}

type startCmd struct {
	Output   string `short:"o" help:"Override the station's configured output sink."`
	Stations string `arg:"" name:"stations" type:"existingfile" help:"Stations file."`
	Mount    string `arg:"" name:"mount" help:"Station mount name."`
}

func (c *startCmd) Run() error {
	return startStation(c.Stations, c.Mount, c.Output)
}

type startAllCmd struct {
	Output   string `short:"o" help:"Override every station's configured output sink."`
	Stations string `arg:"" name:"stations" type:"existingfile" help:"Stations file."`
}

func (c *startAllCmd) Run() error {
	names, err := definitions.ListStations(c.Stations)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := startStation(c.Stations, name, c.Output); err != nil {
			logging.Error("jivebox: %s: %v", name, err)
		}
	}
	return nil
}

func startStation(stationsPath, mount, outputOverride string) error {
	station, err := definitions.ReadStation(stationsPath, mount)
	if err != nil {
		return err
	}
	output := station.Output
	if outputOverride != "" {
		output = outputOverride
	}

	args := append([]string{"play"}, station.Files...)
	if output != "" {
		args = append(args, "-o", output)
	}
	if station.Extensions != "" {
		args = append(args, "-e", station.Extensions)
	}
	if station.MetaURL != "" {
		args = append(args, "-m", station.MetaURL)
	}
	if station.BufferSize > 0 {
		args = append(args, "-s", fmt.Sprint(station.BufferSize))
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("jivebox: %w", err)
	}
	started, err := supervise.Start(station.Key, exe, args)
	if err != nil {
		return err
	}
	if started {
		logging.Info("jivebox: started %s", station.Mount)
	} else {
		logging.Info("jivebox: %s already running", station.Mount)
	}
	return nil
}

type stopCmd struct {
	Stations string `arg:"" name:"stations" type:"existingfile" help:"Stations file."`
	Mount    string `arg:"" name:"mount" help:"Station mount name."`
}

func (c *stopCmd) Run() error {
	return stopStation(c.Stations, c.Mount)
}

type stopAllCmd struct {
	Stations string `arg:"" name:"stations" type:"existingfile" help:"Stations file."`
}

func (c *stopAllCmd) Run() error {
	names, err := definitions.ListStations(c.Stations)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := stopStation(c.Stations, name); err != nil {
			logging.Error("jivebox: %s: %v", name, err)
		}
	}
	return nil
}

func stopStation(stationsPath, mount string) error {
	station, err := definitions.ReadStation(stationsPath, mount)
	if err != nil {
		return err
	}
	stopped, err := supervise.Stop(station.Key)
	if err != nil {
		return err
	}
	if stopped {
		logging.Info("jivebox: stopped %s", station.Mount)
	}
	return nil
}

func firstExt(extensions string) string {
	if extensions == "" {
		return ""
	}
	return strings.Split(extensions, ",")[0]
}

var cli struct {
	Lint     lintCmd     `cmd:"" help:"Check that every file a set of definitions references exists."`
	Play     playCmd     `cmd:"" aliases:"radio" help:"Play a station to an output sink, forever."`
	Start    startCmd    `cmd:"" help:"Start one station from a stations file as a background process."`
	StartAll startAllCmd `cmd:"" name:"start-all" help:"Start every station in a stations file."`
	Stop     stopCmd     `cmd:"" help:"Stop a background station process."`
	StopAll  stopAllCmd  `cmd:"" name:"stop-all" help:"Stop every station in a stations file."`
}

func main() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		logging.Warn("jivebox: could not read .env: %v", err)
	}
	ctx := kong.Parse(&cli,
		kong.Name("jivebox"),
		kong.Description("Generative radio station audio engine"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
