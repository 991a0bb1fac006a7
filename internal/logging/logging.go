package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

func NewStdLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, prefix, log.LstdFlags|log.LUTC)
}

// NewLogger writes to stdout and, when file is set, to a size-rotated file.
// The returned closer flushes the file sink; it is a no-op without one.
func NewLogger(prefix, file string) (*log.Logger, io.Closer) {
	if file == "" {
		return NewStdLogger(prefix), nopCloser{}
	}

	sink := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	return log.New(io.MultiWriter(os.Stdout, sink), prefix, log.LstdFlags|log.LUTC), sink
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
