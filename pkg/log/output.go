package log

import (
	"io"
	"os"
	"sync"
)

// ConsoleOutput writes entries to stdout, routing warnings and errors to
// stderr.
type ConsoleOutput struct {
	mu sync.Mutex
}

// NewConsoleOutput creates a console output.
func NewConsoleOutput() *ConsoleOutput { return &ConsoleOutput{} }

// Write implements Output.
func (o *ConsoleOutput) Write(entry *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := os.Stdout
	if entry.Level >= WarnLevel {
		w = os.Stderr
	}
	_, err := w.Write(formatted)
	return err
}

// Close implements Output.
func (o *ConsoleOutput) Close() error { return nil }

// WriterOutput writes entries to an arbitrary io.Writer. Useful in tests.
type WriterOutput struct {
	mu sync.Mutex
	W  io.Writer
}

// NewWriterOutput creates an output backed by w.
func NewWriterOutput(w io.Writer) *WriterOutput { return &WriterOutput{W: w} }

// Write implements Output.
func (o *WriterOutput) Write(_ *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.W.Write(formatted)
	return err
}

// Close implements Output.
func (o *WriterOutput) Close() error { return nil }
