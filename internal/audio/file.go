package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
)

// FileSource decodes a music or voice-over file into interleaved float32
// stereo frames. Decoding itself is delegated to beep's format decoders
// (vorbis, wav); FileSource only adapts their fixed stereo Streamer
// interface onto our pull-based Source contract.
type FileSource struct {
	base
	streamer beep.StreamSeekCloser
	path     string
}

// OpenFile opens path and prepares it for streaming. The file extension
// selects the decoder; everything other than .wav is treated as Vorbis,
// matching the station definitions' default "ogg" extension.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %s: %w", path, err)
	}

	var streamer beep.StreamSeekCloser
	var format beep.Format
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		streamer, format, err = wav.Decode(f)
	} else {
		streamer, format, err = vorbis.Decode(f)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("audio: decode %s: %w", path, err)
	}

	fs := &FileSource{streamer: streamer, path: path}
	fs.sampleRate = int(format.SampleRate)
	// beep decoders always emit interleaved stereo frames regardless of the
	// source file's channel count (mono files are duplicated L=R).
	fs.channels = 2
	if n := streamer.Len(); n > 0 {
		fs.size = int64(n)
		fs.sizeKnown = true
	}
	return fs, nil
}

// Path returns the file path this source was opened from.
func (f *FileSource) Path() string { return f.path }

func (f *FileSource) Fill(max int) *Buffer {
	if f.buffer == nil {
		f.Allocate(max)
	}
	if max > f.buffer.Frames() {
		max = f.buffer.Frames()
	}
	tmp := make([][2]float64, max)
	n, _ := f.streamer.Stream(tmp)
	out := f.buffer.Slice(n)
	for i := 0; i < n; i++ {
		out.Data[i*2+0] = float32(tmp[i][0])
		out.Data[i*2+1] = float32(tmp[i][1])
	}
	return out
}

// Seek repositions the decoder to the given frame.
func (f *FileSource) Seek(frame int64) error {
	return f.streamer.Seek(int(frame))
}

// Close releases the underlying decoder and file handle.
func (f *FileSource) Close() error {
	return f.streamer.Close()
}
