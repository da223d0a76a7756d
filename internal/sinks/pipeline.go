package sinks

import (
	"github.com/linuxmatters/jivebox/internal/audio"
	"github.com/linuxmatters/jivebox/internal/logging"
)

// blockQueueDepth is the number of blocks the ring buffer holds before
// Push blocks the producer. Dropping instead of blocking would be an
// audible glitch.
const blockQueueDepth = 8

// BlockRingBuffer decouples block production (the scheduler's Fill loop)
// from block consumption (the sink's Write, which may be slow or
// rate-limited, e.g. an ffmpeg pipe or a live device). It is backed by a
// Go channel and blocks the producer when full rather than dropping the
// newest block.
type BlockRingBuffer struct {
	ch chan *audio.Buffer
}

// NewBlockRingBuffer creates a ring buffer holding blockQueueDepth
// blocks.
func NewBlockRingBuffer() *BlockRingBuffer {
	return &BlockRingBuffer{ch: make(chan *audio.Buffer, blockQueueDepth)}
}

// Write enqueues buf, blocking if the buffer is full.
func (b *BlockRingBuffer) Write(buf *audio.Buffer) {
	b.ch <- buf
}

// Close signals that no further blocks will be written.
func (b *BlockRingBuffer) Close() {
	close(b.ch)
}

// AsyncWriter drains a BlockRingBuffer into a Sink on its own goroutine.
// There is no pacing ticker: output pacing comes entirely from the
// sink's own write back-pressure (an ffmpeg pipe, a live device's ring
// buffer, a plain file), not a wall-clock target, so the writer simply
// drains as fast as the sink accepts.
type AsyncWriter struct {
	ring *BlockRingBuffer
	sink Sink
	done chan struct{}

	blocksWritten uint64
	writeErrors   uint64
}

// NewAsyncWriter creates a writer draining ring into sink.
func NewAsyncWriter(ring *BlockRingBuffer, sink Sink) *AsyncWriter {
	return &AsyncWriter{ring: ring, sink: sink, done: make(chan struct{})}
}

// Start begins draining in a new goroutine.
func (w *AsyncWriter) Start() {
	go w.run()
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for buf := range w.ring.ch {
		if err := w.sink.Write(buf); err != nil {
			w.writeErrors++
			logging.Warn("sinks: write failed: %v", err)
			continue
		}
		w.blocksWritten++
	}
}

// Wait blocks until the ring buffer is closed and drained, then closes
// the underlying sink.
func (w *AsyncWriter) Wait() error {
	<-w.done
	return w.sink.Close()
}

// Stats reports blocks written and write failures so far.
func (w *AsyncWriter) Stats() (written, errors uint64) {
	return w.blocksWritten, w.writeErrors
}

// Pipeline ties a BlockRingBuffer and AsyncWriter together: Push from
// the producer (the scheduler's Fill loop), Close when production ends.
type Pipeline struct {
	ring   *BlockRingBuffer
	writer *AsyncWriter
}

// NewPipeline starts a writer goroutine draining into sink.
func NewPipeline(sink Sink) *Pipeline {
	ring := NewBlockRingBuffer()
	w := NewAsyncWriter(ring, sink)
	w.Start()
	return &Pipeline{ring: ring, writer: w}
}

// Push enqueues a copy of buf, blocking if the sink is falling behind.
// A copy is required because the producer's Source graph reuses its
// internal buffer's backing array on every Fill call; queuing the view
// itself would let the next block overwrite audio the writer goroutine
// hasn't consumed yet.
func (p *Pipeline) Push(buf *audio.Buffer) {
	p.ring.Write(buf.Clone())
}

// Close stops accepting new blocks and waits for the writer to drain
// and close the sink.
func (p *Pipeline) Close() error {
	p.ring.Close()
	return p.writer.Wait()
}

// Stats reports blocks written and write failures so far.
func (p *Pipeline) Stats() (written, errors uint64) {
	return p.writer.Stats()
}
