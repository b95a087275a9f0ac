package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ConsoleOutput writes formatted entries to stderr (or a custom writer).
type ConsoleOutput struct {
	mu    sync.Mutex
	w     io.Writer
	level Level
}

// NewConsoleOutput creates a console sink with its own level floor.
func NewConsoleOutput(level Level) *ConsoleOutput {
	return &ConsoleOutput{w: os.Stderr, level: level}
}

// NewWriterOutput creates a sink over an arbitrary writer. Used by tests.
func NewWriterOutput(w io.Writer, level Level) *ConsoleOutput {
	return &ConsoleOutput{w: w, level: level}
}

func (o *ConsoleOutput) Write(_ *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.w.Write(formatted)
	return err
}

// MinLevel returns the sink's level floor.
func (o *ConsoleOutput) MinLevel() Level { return o.level }

// Close is a no-op for console sinks.
func (o *ConsoleOutput) Close() error { return nil }

// FileOutput appends formatted entries to a log file, creating parent
// directories on first open.
type FileOutput struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	level Level
}

// NewFileOutput creates a file sink with its own level floor. The file is
// opened lazily on first write.
func NewFileOutput(path string, level Level) *FileOutput {
	return &FileOutput{path: path, level: level}
}

func (o *FileOutput) Write(_ *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file == nil {
		if dir := filepath.Dir(o.path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		o.file = f
	}
	_, err := o.file.Write(formatted)
	return err
}

// MinLevel returns the sink's level floor.
func (o *FileOutput) MinLevel() Level { return o.level }

// Close closes the underlying file if it was opened.
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}
