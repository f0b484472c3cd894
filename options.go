package stackwalk

import (
	"github.com/charmbracelet/log"
)

// defaultMaxFrames bounds runaway captures; deep recursive stacks past it
// are truncated, not failed.
const defaultMaxFrames = 512

type config struct {
	log       *log.Logger
	maxFrames int
}

func defaultConfig() config {
	return config{
		log:       log.Default(),
		maxFrames: defaultMaxFrames,
	}
}

// Option customizes a capture.
type Option func(*config)

// WithLogger routes the capture's diagnostics to l.
func WithLogger(l *log.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// WithMaxFrames overrides the frame budget per capture.
func WithMaxFrames(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxFrames = n
		}
	}
}
