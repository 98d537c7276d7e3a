// Package config loads the YAML configuration file shared by every
// plotextractor command.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/inspirehep/plotextractor/pkg/convert"
	"github.com/inspirehep/plotextractor/pkg/detect"
	"github.com/inspirehep/plotextractor/pkg/extract"
	"github.com/inspirehep/plotextractor/pkg/plots"
	"github.com/inspirehep/plotextractor/pkg/server"
	"github.com/inspirehep/plotextractor/pkg/store"
	"github.com/inspirehep/plotextractor/pkg/watch"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "plotextractor.yaml"

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// LogConfig selects the log level and output format.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level" json:"level"`
	// Format is text or json.
	Format string `yaml:"format" json:"format"`
}

// Config is the full configuration document.
type Config struct {
	Extract extract.Config `yaml:"extract" json:"extract"`
	Convert convert.Config `yaml:"convert" json:"convert"`
	Detect  detect.Config  `yaml:"detect" json:"detect"`
	Store   store.Config   `yaml:"store" json:"store"`
	Server  server.Config  `yaml:"server" json:"server"`
	Watch   watch.Config   `yaml:"watch" json:"watch"`
	Log     LogConfig      `yaml:"log" json:"log"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Extract: extract.DefaultConfig(),
		Convert: convert.DefaultConfig(),
		Detect:  detect.DefaultConfig(),
		Store:   store.DefaultConfig(),
		Server:  server.DefaultConfig(),
		Watch:   watch.DefaultConfig(),
		Log:     LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// Load reads path on top of the defaults and validates the result. A
// missing file is an error unless path is DefaultFile.
func Load(path string) (Config, error) {
	config := Default()
	if path == "" {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultFile {
			return config, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks every section and names the first offending key.
func (config Config) Validate() error {
	positive := []struct {
		key   string
		value int
	}{
		{"extract.context_word_limit", config.Extract.ContextWordLimit},
		{"extract.context_sentence_limit", config.Extract.ContextSentenceLimit},
		{"extract.context_extract_limit", config.Extract.ContextExtractLimit},
		{"convert.workers", config.Convert.Workers},
		{"convert.resolution", config.Convert.Resolution},
	}
	for _, check := range positive {
		if check.value <= 0 {
			return fmt.Errorf("%s must be positive", check.key)
		}
	}
	if len(config.Extract.AllowedImageTypes) == 0 {
		return fmt.Errorf("extract.allowed_image_types must not be empty")
	}
	if config.Convert.Timeout <= 0 {
		return fmt.Errorf("convert.timeout must be positive")
	}
	if config.Convert.Ghostscript == "" {
		return fmt.Errorf("convert.ghostscript is required")
	}
	switch config.Detect.Method {
	case detect.MethodSniff, detect.MethodFile:
	default:
		return fmt.Errorf("detect.method must be %q or %q", detect.MethodSniff, detect.MethodFile)
	}
	if config.Detect.Timeout <= 0 {
		return fmt.Errorf("detect.timeout must be positive")
	}
	if config.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if config.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if config.Watch.SettleDelay <= 0 {
		return fmt.Errorf("watch.settle_delay must be positive")
	}
	if _, err := parseLevel(config.Log.Level); err != nil {
		return err
	}
	switch config.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

// Pipeline returns the settings of the extraction pipeline.
func (config Config) Pipeline() plots.Config {
	return plots.Config{
		Extract: config.Extract,
		Detect:  config.Detect,
		Convert: config.Convert,
	}
}

// Write saves config as YAML at path.
func Write(config Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if directory := filepath.Dir(path); directory != "." {
		if err := os.MkdirAll(directory, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level must be debug, info, warn or error")
}
