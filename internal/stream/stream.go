// Package stream turns the stdout and stderr pipes of a watched process
// into chunk and line events.
//
// Readers never drop output: a wait that is looking for "Compiled
// successfully" must see every byte the build tool prints, even before the
// line is terminated. Every reader keeps draining its pipe until EOF so the
// child never blocks on a full pipe.
package stream

// Name identifies an output stream of a process.
type Name string

const (
	// Stdout is the process's standard output.
	Stdout Name = "stdout"

	// Stderr is the process's standard error.
	Stderr Name = "stderr"
)

// String returns the stream name.
func (n Name) String() string {
	return string(n)
}

// LineSink receives complete lines from a stream, without the terminator.
// Implementations must be safe for concurrent use: stdout and stderr are
// read by separate goroutines.
type LineSink interface {
	WriteLine(stream Name, line string)
}

// ChunkSink receives raw reads from a stream as they arrive, terminators
// included. A PipeReader whose sink also implements ChunkSink delivers each
// read to WriteChunk before the complete lines it contains go to WriteLine,
// so text printed without a trailing newline is still observed.
type ChunkSink interface {
	WriteChunk(stream Name, chunk string)
}

// SinkFunc adapts a function to LineSink.
type SinkFunc func(stream Name, line string)

// WriteLine calls f(stream, line).
func (f SinkFunc) WriteLine(stream Name, line string) {
	f(stream, line)
}

// Tee fans a line out to several sinks, in order. Nil entries are skipped.
type Tee []LineSink

// WriteLine implements LineSink.
func (t Tee) WriteLine(stream Name, line string) {
	for _, s := range t {
		if s != nil {
			s.WriteLine(stream, line)
		}
	}
}

// Discard is a LineSink that ignores every line.
var Discard LineSink = SinkFunc(func(Name, string) {})
