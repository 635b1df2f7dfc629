package scheduler

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/amirphl/evoteli/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger writes to stdout and, when a path is configured, to a rotated file.
// The returned closer releases the file and is never nil.
func NewLogger(cfg config.LoggingConfig) (*log.Logger, io.Closer) {
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC
	if cfg.SchedulerLogPath == "" {
		return log.New(os.Stdout, "scheduler ", flags), io.NopCloser(nil)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SchedulerLogPath), 0o755); err != nil {
		l := log.New(os.Stdout, "scheduler ", flags)
		l.Printf("scheduler: failed to create log directory: %v", err)
		return l, io.NopCloser(nil)
	}

	rotated := &lumberjack.Logger{
		Filename:   cfg.SchedulerLogPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return log.New(io.MultiWriter(os.Stdout, rotated), "scheduler ", flags), rotated
}
