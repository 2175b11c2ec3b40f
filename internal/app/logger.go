package app

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Loopxo/khoj/internal/config"
)

// newLogger builds the process logger and installs it as the global zerolog logger.
// The returned closer releases the rotating log file, if one was opened.
func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Quiet {
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer
	if cfg.Log.JSON {
		console = os.Stderr
	} else {
		console = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	var (
		writer io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if cfg.Log.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		// the file always gets JSON regardless of the console format
		writer = zerolog.MultiLevelWriter(console, rotating)
		closer = rotating
	}

	logger := zerolog.New(writer).With().Timestamp().Logger()
	log.Logger = logger
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
