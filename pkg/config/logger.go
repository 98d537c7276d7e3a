package config

import (
	"io"
	"log/slog"
)

// NewLogger builds the root logger described by the log section.
func (config LogConfig) NewLogger(writer io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	if config.Format == "json" {
		return slog.New(slog.NewJSONHandler(writer, options)), nil
	}
	return slog.New(slog.NewTextHandler(writer, options)), nil
}
