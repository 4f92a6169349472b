package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file rotation limits.
const (
	LogFileMaxSizeMB  = 10
	LogFileMaxBackups = 3
)

// ConfigureLogging applies the log settings to logger. Output goes to out and,
// when LogFile is set, also to a size-rotated file. The returned closer
// releases the file; it is a no-op without one.
func ConfigureLogging(logger *logrus.Logger, cfg *Config, out io.Writer) (io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if cfg.LogFile == "" {
		logger.SetOutput(out)
		return nopCloser{}, nil
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    LogFileMaxSizeMB,
		MaxBackups: LogFileMaxBackups,
		Compress:   false,
	}
	logger.SetOutput(io.MultiWriter(out, rotator))
	return rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
