package stream

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"
)

// MaxLineSize is the longest line delivered whole. Longer lines are split.
const MaxLineSize = 1024 * 1024

// readSize is the buffer handed to each Read on the pipe.
const readSize = 32 * 1024

// PipeReader reads a process stdout/stderr pipe. Every read is passed to the
// sink as a chunk (when the sink is a ChunkSink) and split into lines.
type PipeReader struct {
	reader io.Reader
	stream Name
	sink   LineSink
	chunks ChunkSink
	done   chan struct{}

	// Stats (atomic for thread-safety)
	bytesRead atomic.Int64
	linesRead atomic.Int64

	// err is written before done is closed.
	err error
}

// NewPipeReader creates a reader for one stream.
//
// The reader is typically cmd.StdoutPipe() or cmd.StderrPipe().
func NewPipeReader(r io.Reader, stream Name, sink LineSink) *PipeReader {
	if sink == nil {
		sink = Discard
	}
	chunks, _ := sink.(ChunkSink)
	return &PipeReader{
		reader: r,
		stream: stream,
		sink:   sink,
		chunks: chunks,
		done:   make(chan struct{}),
	}
}

// Run reads until EOF or a read error. MUST run in its own goroutine.
// Done is closed when Run returns. A trailing partial line is delivered
// as a line at EOF.
func (p *PipeReader) Run() {
	defer close(p.done)

	buf := make([]byte, readSize)
	var pending []byte

	for {
		n, err := p.reader.Read(buf)
		if n > 0 {
			p.bytesRead.Add(int64(n))
			if p.chunks != nil {
				p.chunks.WriteChunk(p.stream, string(buf[:n]))
			}
			pending = p.emitLines(append(pending, buf[:n]...), false)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.err = err
			}
			p.emitLines(pending, true)
			return
		}
	}
}

// emitLines delivers every complete line in data and returns the rest.
func (p *PipeReader) emitLines(data []byte, atEOF bool) []byte {
	rest := data
	for {
		advance, token, _ := ScanLines(rest, atEOF)
		if advance == 0 {
			break
		}
		p.linesRead.Add(1)
		p.sink.WriteLine(p.stream, string(token))
		rest = rest[advance:]
	}
	return append(data[:0], rest...)
}

// Done returns a channel that is closed once the reader hit EOF.
func (p *PipeReader) Done() <-chan struct{} {
	return p.done
}

// Err returns the read error, if any. Only valid after Done is closed.
func (p *PipeReader) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Stream returns the stream name this reader feeds.
func (p *PipeReader) Stream() Name {
	return p.stream
}

// Stats returns (bytesRead, linesRead, healthy).
func (p *PipeReader) Stats() (bytesRead int64, linesRead int64, healthy bool) {
	return p.bytesRead.Load(), p.linesRead.Load(), p.Err() == nil
}

// ScanLines is a bufio.SplitFunc that ends a line at "\n", "\r\n" or a lone
// "\r". Build tools redraw progress lines with a bare carriage return.
// Lines longer than MaxLineSize are split.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	window := data
	if len(window) > MaxLineSize {
		window = window[:MaxLineSize]
	}
	if i := bytes.IndexAny(window, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// '\r': swallow a following '\n', but we need to see it first.
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		// Nothing more can arrive to pair with the '\r'.
		if atEOF || len(data) >= MaxLineSize {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if len(data) >= MaxLineSize {
		return MaxLineSize, data[:MaxLineSize], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
