// Package logging builds component loggers on rs/zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.RWMutex
	out     io.Writer = os.Stdout
	console           = strings.EqualFold(os.Getenv("APP_ENV"), "dev")
)

// Configure sets the global level and output format ("json" or "console").
func Configure(level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	mu.Lock()
	console = format == "console"
	mu.Unlock()
	return nil
}

// SetOutput redirects every logger created afterwards.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// New returns a logger tagged with the component field.
func New(component string) zerolog.Logger {
	mu.RLock()
	w, pretty := out, console
	mu.RUnlock()
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}
