// Package logger builds the zerolog loggers used by capnet's binaries.
package logger

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

type stackTracer interface {
	error
	StackTrace() pkgerrors.StackTrace
}

var installStack sync.Once

// New returns a JSON logger writing to stdout tagged with serviceName.
func New(serviceName string) zerolog.Logger {
	return NewWithWriter(os.Stdout, serviceName)
}

// NewWithWriter is New with an explicit sink. Error events logged with
// .Stack() carry a "stack" field.
func NewWithWriter(w io.Writer, serviceName string) zerolog.Logger {
	installStack.Do(func() { zerolog.ErrorStackMarshaler = marshalStack })

	return zerolog.New(w).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}

// marshalStack renders the first pkg/errors stack found in err's chain.
// Store and client errors are wrapped with fmt.Errorf, so the stack is
// rarely on the outermost error. Errors with no stack get one taken here.
func marshalStack(err error) interface{} {
	var st stackTracer
	if errors.As(err, &st) {
		return zpkgerrors.MarshalStack(st)
	}
	return zpkgerrors.MarshalStack(pkgerrors.WithStack(err))
}

// SetLevel sets the global level from a name such as "debug" or "warn".
// Unknown names fall back to info.
func SetLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}
