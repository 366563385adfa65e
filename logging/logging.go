// Package logging wires the pipeline's stage-lifecycle logging to
// logiface (_examples teacher package logiface/), the teacher's generic
// logging facade, backed by izerolog (wrapping github.com/rs/zerolog) for
// production use and stumpy for lightweight/test output. Every
// constructor returns the facade's generified Logger[logiface.Event] (via
// Logger.Logger(), the teacher's own "use this for greater compatibility"
// conversion), so streampipe.Config can hold one Logger type regardless
// of backend. A no-op Logger is the default, matching microbatch's
// "everything optional, sane zero value" style: the pipeline's core never
// requires a logger to function.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/rs/zerolog"
)

// Logger is the generified facade type threaded through streampipe.Config.
type Logger = *logiface.Logger[logiface.Event]

type nopWriter struct{}

func (nopWriter) Write(logiface.Event) error { return logiface.ErrDisabled }

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return logiface.L.New(
		logiface.L.WithWriter(nopWriter{}),
	).Logger()
}

// NewZerolog returns a Logger backed by zerolog, writing to w (default
// os.Stderr) at level lvl (inclusive).
func NewZerolog(w io.Writer, lvl logiface.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return izerolog.L.New(
		izerolog.L.WithZerolog(zl),
		izerolog.L.WithLevel(lvl),
	).Logger()
}

// NewStumpy returns a Logger backed by stumpy, the teacher's lightweight
// zero-alloc JSON writer, writing to w (default os.Stdout) at level lvl.
// Better suited to test output than zerolog's heavier formatting.
func NewStumpy(w io.Writer, lvl logiface.Level) Logger {
	if w == nil {
		w = os.Stdout
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(lvl),
	).Logger()
}
