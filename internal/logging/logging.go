// Package logging builds the zerolog loggers the service and its components
// write through.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const permission = 0o664

// Builder collects where and how verbosely a logger writes.
type Builder struct {
	writer  io.Writer
	path    string
	level   zerolog.Level
	console bool
}

// Logger is a built logger together with the file it may own.
type Logger struct {
	zerolog.Logger
	file *os.File
}

func New() *Builder {
	return &Builder{writer: os.Stdout, level: zerolog.InfoLevel}
}

// FromPath appends to the file at path instead of the writer.
func (b *Builder) FromPath(path string) *Builder {
	b.path = path
	return b
}

func (b *Builder) FromWriter(w io.Writer) *Builder {
	b.writer = w
	return b
}

// Level sets the minimum level by name. Unknown names keep the current level.
func (b *Builder) Level(name string) *Builder {
	if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name))); err == nil && name != "" {
		b.level = lvl
	}
	return b
}

// Console switches to human readable output.
func (b *Builder) Console(on bool) *Builder {
	b.console = on
	return b
}

func (b *Builder) Make() (*Logger, error) {
	out := &Logger{}
	w := b.writer
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		out.file = f
		w = zerolog.SyncWriter(f)
	}
	if b.console {
		w = zerolog.ConsoleWriter{Out: w, NoColor: b.path != ""}
	}
	out.Logger = zerolog.New(w).Level(b.level).With().Timestamp().Logger()
	return out, nil
}

// Close closes the log file, if the logger owns one.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Component derives a child logger tagged with the component name.
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}
