package logger

import (
	"log/slog"
	"os"
)

func newStdHandler(cfg Config) slog.Handler {
	var level slog.Level
	if cfg.Debug && cfg.Level == 0 {
		level = slog.LevelDebug
	} else {
		level = cfg.Level
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	// В dev — человекочитаемый текст, в stage/prod — строки JSON
	if cfg.Env == EnvDev {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}
