// Package logging builds the zerolog loggers used by every long-running
// component. There is no global logger: each process constructs one at
// startup and threads it down through constructors.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console-formatted zerolog.Logger tagged with component and
// addr, the way each cmd/ entrypoint identifies itself in its log lines.
func New(component, addr string) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).
		With().
		Timestamp().
		Str("component", component).
		Str("addr", addr).
		Logger()
}
