// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — Cold-path diagnostics over zerolog
//
// Purpose:
//   - Logs lifecycle events (combiner start/stop, pinning, allocation) and
//     failures through one process logger.
//   - Keeps DropError/DropMessage as the terse call sites used across the
//     module; structured fields go through Logger() directly.
//
// Notes:
//   - Defaults to a disabled logger so library users opt in with SetLogger.
//
// ⚠️ Never invoke in hot loops; setup, teardown and failure paths only.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var logger atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.Nop()
	logger.Store(&l)
}

// SetLogger replaces the process logger.
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

// Logger returns the process logger.
func Logger() *zerolog.Logger {
	return logger.Load()
}

// Console builds a human-readable logger writing to w at the given level.
func Console(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// DropError logs err under prefix at error level, or prefix alone at warn
// level when err is nil.
func DropError(prefix string, err error) {
	if err != nil {
		Logger().Error().Err(err).Msg(prefix)
		return
	}
	Logger().Warn().Msg(prefix)
}

// DropMessage logs an informational message tagged with prefix.
func DropMessage(prefix, message string) {
	Logger().Info().Str("tag", prefix).Msg(message)
}
