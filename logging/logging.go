package logging

import (
	"io"
	"log"
	"os"

	"github.com/voodooEntity/archivist"
)

const (
	LEVEL_DEBUG   = archivist.LEVEL_DEBUG
	LEVEL_INFO    = archivist.LEVEL_INFO
	LEVEL_WARNING = archivist.LEVEL_WARNING
	LEVEL_ERROR   = archivist.LEVEL_ERROR
	LEVEL_FATAL   = archivist.LEVEL_FATAL
)

// Granular debug levels, only honoured at LEVEL_DEBUG
const (
	DEBUG_LEVEL_TRACE  = archivist.DEBUG_LEVEL_TRACE  // kernel and merge progress
	DEBUG_LEVEL_INFO   = archivist.DEBUG_LEVEL_INFO   // per-group decisions
	DEBUG_LEVEL_DETAIL = archivist.DEBUG_LEVEL_DETAIL // field and array layout
	DEBUG_LEVEL_DUMP   = archivist.DEBUG_LEVEL_DUMP   // generated source
)

// Logger is the leveled logger every package writes through
type Logger = archivist.Archivist

type Config struct {
	// Output receives finished lines, stdout when nil
	Output     io.Writer
	LogLevel   int
	DebugLevel int
}

func New(conf *Config) *Logger {
	if conf == nil {
		conf = &Config{}
	}
	out := conf.Output
	if out == nil {
		out = os.Stdout
	}
	return archivist.New(&archivist.Config{
		Logger:     log.New(out, "", 0),
		LogLevel:   conf.LogLevel,
		DebugLevel: conf.DebugLevel,
	})
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return New(&Config{Output: io.Discard, LogLevel: LEVEL_FATAL})
}
