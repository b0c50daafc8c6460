package debug

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (connection, capture results)
	LevelLive    = 2 // Live info (commands sent, events received, files saved)
	LevelVerbose = 3 // Verbose (poll iterations, dataset details)
	LevelTrace   = 4 // Trace (PTP/IP packets, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stderr
	logger           = zerolog.New(io.Discard).Level(zerolog.Disabled)
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (connection, capture results)
// 2 = live info (commands, events, saved files)
// 3 = verbose (poll iterations, datasets)
// 4 = trace (PTP/IP packets)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	rebuild()
}

// SetOutput redirects all debug output to w (e.g. stderr plus the web status stream).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

func rebuild() {
	if level <= LevelOff {
		logger = zerolog.New(io.Discard).Level(zerolog.Disabled)
		return
	}
	logger = zerolog.New(out).Level(zerologLevel(level)).With().Timestamp().Str("app", "ptpshot").Logger()
}

func zerologLevel(l int) zerolog.Level {
	switch {
	case l >= LevelTrace:
		return zerolog.TraceLevel
	case l >= LevelLive:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Logger returns the underlying structured logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// WithComponent returns a child logger tagged with a component name.
// The child is detached from later Init/SetOutput calls, so components
// should fetch it after logging is configured.
func WithComponent(component string) zerolog.Logger {
	return Logger().With().Str("component", component).Logger()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Info().Msgf(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Info().Str("section", title).Msg("═══ " + title + " ═══")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if IsEnabled(LevelLive) {
		l := Logger()
		l.Info().Str("lvl", "live").Msgf(format, args...)
	}
}

// Shot prints a completed capture (level 2).
func Shot(objectID uint32, path string) {
	if IsEnabled(LevelLive) {
		l := Logger()
		l.Info().Str("lvl", "live").Uint32("object_id", objectID).Str("path", path).Msg("image saved")
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if IsEnabled(LevelVerbose) {
		l := Logger()
		l.Debug().Msgf(format, args...)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if IsEnabled(LevelVerbose) {
		l := Logger()
		l.Debug().Str("section", name).Msg("━━━ " + name + " ━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if IsEnabled(LevelVerbose) {
		l := Logger()
		l.Debug().Int("step", num).Msg(description)
	}
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Info().Interface(name, value).Msg("value")
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if IsEnabled(LevelTrace) {
		l := Logger()
		l.Trace().Msgf(format, args...)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Error().Err(err).Msg("error")
	}
}
