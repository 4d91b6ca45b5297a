// Package logger provides the component-scoped structured logger used
// across the pipeline.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger tags every entry with the component that emitted it.
type Logger interface {
	Info(component string, message string, fields map[string]interface{})
	Error(component string, err error, fields map[string]interface{})
	Warning(component string, message string, fields map[string]interface{})
	Debug(component string, message string, fields map[string]interface{})
}

// ParseLevel maps a level name onto a zerolog level. The empty string is info.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", name, err)
	}
	return level, nil
}

// LevelFromEnv resolves the level the way the CLI does when no flag is
// given: DEBUG=1 or true forces debug, otherwise LOG_LEVEL is parsed.
func LevelFromEnv() zerolog.Level {
	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		return zerolog.DebugLevel
	}
	level, err := ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// New writes JSON to w, or human-readable lines when console is set.
func New(w io.Writer, level zerolog.Level, console bool) *ZerologAdapter {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	return NewZerolog(w, level)
}

// Nop discards everything.
func Nop() *ZerologAdapter {
	return &ZerologAdapter{logger: zerolog.Nop()}
}
