// Package logger configures the project's structured logging.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

// New builds a logger writing to w.
func New(w io.Writer, debug, noColor bool) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "stackwalk",
	})
	if debug {
		l.SetLevel(log.DebugLevel)
	}
	l.SetColorProfile(termenv.ANSI256)
	if noColor {
		l.SetColorProfile(termenv.Ascii)
	}
	return l
}

// Init installs a process-wide default logger on stderr.
func Init(debug, noColor bool) {
	log.SetDefault(New(os.Stderr, debug, noColor))
}
