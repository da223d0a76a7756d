// Package sinks consumes mixed audio blocks: to a file, a live playback
// device, or a piped encoder process. A Pipeline decouples the mixing
// loop from sink I/O through a ring buffer and a writer goroutine.
package sinks

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"github.com/linuxmatters/jivebox/internal/audio"
)

// Sink consumes mixed audio blocks, one at a time, in order.
type Sink interface {
	Write(buf *audio.Buffer) error
	Close() error
}

// Open dispatches a CLI output spec to a concrete Sink: "file:PATH" (or
// a bare path), "-" / "stdout:" (raw PCM16LE to standard output),
// "ffmpeg:ARGS" / "ffmpegre:ARGS" (piped ffmpeg encoder), or empty
// (live device).
func Open(spec string, sampleRate, channels int) (Sink, error) {
	if spec == "" {
		return NewLiveSink(sampleRate, channels)
	}
	if spec == "-" {
		return newStdoutSink(sampleRate, channels)
	}

	typ, value := "file", spec
	if idx := strings.IndexByte(spec, ':'); idx >= 0 {
		switch spec[:idx] {
		case "file", "stdout", "ffmpeg", "ffmpegre":
			typ, value = spec[:idx], spec[idx+1:]
		}
	}

	switch typ {
	case "file":
		return NewFileSink(value, sampleRate, channels)
	case "stdout":
		return newStdoutSink(sampleRate, channels)
	case "ffmpeg":
		return NewFFmpegSink(sampleRate, channels, false, splitArgs(value))
	case "ffmpegre":
		return NewFFmpegSink(sampleRate, channels, true, splitArgs(value))
	default:
		return nil, fmt.Errorf("sinks: unhandled output type %q", typ)
	}
}

func splitArgs(s string) []string {
	return strings.Fields(s)
}

// FileSink writes a PCM16LE WAV file. beep's vorbis/wav packages are
// decode-only, so the header and samples are written directly.
type FileSink struct {
	f          *os.File
	samples    uint32
	sampleRate int
	channels   int
}

// NewFileSink creates path, reserving space for a WAV header that is
// patched with the final sizes on Close.
func NewFileSink(path string, sampleRate, channels int) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sinks: create %s: %w", path, err)
	}
	if _, err := f.Write(make([]byte, 44)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sinks: write header placeholder: %w", err)
	}
	return &FileSink{f: f, sampleRate: sampleRate, channels: channels}, nil
}

func (s *FileSink) Write(buf *audio.Buffer) error {
	raw := float32ToPCM16(buf.Data)
	if _, err := s.f.Write(raw); err != nil {
		return fmt.Errorf("sinks: write: %w", err)
	}
	s.samples += uint32(len(buf.Data))
	return nil
}

func (s *FileSink) Close() error {
	defer s.f.Close()
	if err := writeWAVHeader(s.f, s.sampleRate, s.channels, s.samples); err != nil {
		return err
	}
	return nil
}

func writeWAVHeader(f *os.File, sampleRate, channels int, samples uint32) error {
	dataSize := samples * 2
	blockAlign := uint16(channels * 2)
	byteRate := uint32(sampleRate) * uint32(blockAlign)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], 16) // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := f.WriteAt(header, 0); err != nil {
		return fmt.Errorf("sinks: patch wav header: %w", err)
	}
	return nil
}

func float32ToPCM16(data []float32) []byte {
	out := make([]byte, len(data)*2)
	for i, v := range data {
		s := int16(clamp(v) * math.MaxInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// stdoutSink writes raw PCM16LE to standard output. os.Stdout is
// reassigned to stderr so the process's own log lines can't corrupt the
// PCM stream.
type stdoutSink struct {
	w          io.Writer
	sampleRate int
	channels   int
}

func newStdoutSink(sampleRate, channels int) (*stdoutSink, error) {
	out := os.Stdout
	os.Stdout = os.Stderr
	return &stdoutSink{w: out, sampleRate: sampleRate, channels: channels}, nil
}

func (s *stdoutSink) Write(buf *audio.Buffer) error {
	_, err := s.w.Write(float32ToPCM16(buf.Data))
	return err
}

func (s *stdoutSink) Close() error { return nil }

// FFmpegSink pipes PCM16LE into an ffmpeg child process, the same way
// stream.go invokes ffmpeg.
type FFmpegSink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewFFmpegSink launches `ffmpeg -f s16le -ar <rate> -ac <channels>
// [-re] -i - <args>`.
func NewFFmpegSink(sampleRate, channels int, realtime bool, args []string) (*FFmpegSink, error) {
	cmdArgs := []string{"-f", "s16le", "-ar", fmt.Sprint(sampleRate), "-ac", fmt.Sprint(channels)}
	if realtime {
		cmdArgs = append(cmdArgs, "-re")
	}
	cmdArgs = append(cmdArgs, "-i", "-")
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.Command("ffmpeg", cmdArgs...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sinks: ffmpeg stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sinks: start ffmpeg: %w", err)
	}
	return &FFmpegSink{cmd: cmd, stdin: stdin}, nil
}

func (s *FFmpegSink) Write(buf *audio.Buffer) error {
	_, err := s.stdin.Write(float32ToPCM16(buf.Data))
	return err
}

func (s *FFmpegSink) Close() error {
	s.stdin.Close()
	return s.cmd.Wait()
}

// LiveSink plays to the system's default audio device via beep/speaker.
type LiveSink struct {
	channels int
	queue    chan *audio.Buffer
	cur      *audio.Buffer
	pos      int
}

// NewLiveSink initializes the speaker at sampleRate and starts playback
// pulled from an internal queue fed by Write.
func NewLiveSink(sampleRate, channels int) (*LiveSink, error) {
	s := &LiveSink{channels: channels, queue: make(chan *audio.Buffer, 4)}
	if err := speaker.Init(beep.SampleRate(sampleRate), sampleRate/10); err != nil {
		return nil, fmt.Errorf("sinks: speaker init: %w", err)
	}
	speaker.Play(s)
	return s, nil
}

// Stream implements beep.Streamer, pulled by the speaker's mixer.
func (s *LiveSink) Stream(samples [][2]float64) (int, bool) {
	n := 0
	for n < len(samples) {
		if s.cur == nil || s.pos >= s.cur.Frames() {
			buf, ok := <-s.queue
			if !ok {
				return n, n > 0
			}
			s.cur = buf
			s.pos = 0
		}
		for s.pos < s.cur.Frames() && n < len(samples) {
			if s.channels >= 2 {
				samples[n][0] = float64(s.cur.Data[s.pos*s.channels+0])
				samples[n][1] = float64(s.cur.Data[s.pos*s.channels+1])
			} else {
				v := float64(s.cur.Data[s.pos*s.channels])
				samples[n][0], samples[n][1] = v, v
			}
			s.pos++
			n++
		}
	}
	return n, true
}

func (s *LiveSink) Err() error { return nil }

func (s *LiveSink) Write(buf *audio.Buffer) error {
	s.queue <- buf
	return nil
}

func (s *LiveSink) Close() error {
	close(s.queue)
	return nil
}
