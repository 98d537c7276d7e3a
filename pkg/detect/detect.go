// Package detect classifies extracted files into TeX sources and images.
package detect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Kind is what a detector recognized a file as.
type Kind int

const (
	// Unknown means the detector could not tell; the extension decides.
	Unknown Kind = iota
	TeX
	Image
)

func (kind Kind) String() string {
	switch kind {
	case TeX:
		return "tex"
	case Image:
		return "image"
	default:
		return "unknown"
	}
}

// Detector inspects a file's content.
type Detector interface {
	Detect(ctx context.Context, path string) (Kind, error)
}

// Method names accepted in configuration.
const (
	MethodSniff = "sniff"
	MethodFile  = "file"
)

const (
	DefaultMethod         = MethodSniff
	DefaultCommandTimeout = 20 * time.Second
)

// Config selects and tunes the detector.
type Config struct {
	// Method is "sniff" for built-in magic numbers or "file" for file(1).
	Method string `yaml:"method" json:"method"`
	// Timeout bounds each file(1) invocation.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the built-in sniffing detector configuration.
func DefaultConfig() Config {
	return Config{Method: DefaultMethod, Timeout: DefaultCommandTimeout}
}

// New returns the detector named by config.Method.
func New(config Config) (Detector, error) {
	switch config.Method {
	case "", MethodSniff:
		return SniffDetector{}, nil
	case MethodFile:
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultCommandTimeout
		}
		return &FileCommandDetector{Command: "file", Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unknown detection method %q", config.Method)
	}
}

var texMarkers = [][]byte{
	[]byte(`\documentclass`),
	[]byte(`\documentstyle`),
	[]byte(`\begin{`),
	[]byte(`\input`),
	[]byte(`\section`),
	[]byte(`\usepackage`),
	[]byte(`\def\`),
	[]byte(`\newcommand`),
}

// SniffDetector recognizes files from their leading bytes.
type SniffDetector struct{}

// Detect implements Detector.
func (SniffDetector) Detect(ctx context.Context, path string) (Kind, error) {
	file, err := os.Open(path)
	if err != nil {
		return Unknown, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	header := make([]byte, 4096)
	count, err := io.ReadFull(file, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Unknown, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return sniff(header[:count]), nil
}

func sniff(header []byte) Kind {
	switch {
	case bytes.HasPrefix(header, []byte("%!PS")),
		bytes.HasPrefix(header, []byte{0xC5, 0xD0, 0xD3, 0xC6}):
		return Image
	case strings.HasPrefix(http.DetectContentType(header), "image/"):
		return Image
	}
	for _, marker := range texMarkers {
		if bytes.Contains(header, marker) {
			return TeX
		}
	}
	return Unknown
}

// FileCommandDetector asks file(1) for a description of each file.
type FileCommandDetector struct {
	Command string
	Timeout time.Duration
}

// Detect implements Detector.
func (detector *FileCommandDetector) Detect(ctx context.Context, path string) (Kind, error) {
	ctx, cancel := context.WithTimeout(ctx, detector.Timeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, detector.Command, "-b", path).Output()
	if err != nil {
		return Unknown, fmt.Errorf("failed to run %s on %s: %w", detector.Command, path, err)
	}
	return describe(string(output)), nil
}

// describe maps a file(1) description onto a Kind.
func describe(description string) Kind {
	switch {
	case strings.Contains(description, "TeX"):
		return TeX
	case strings.Contains(strings.ToLower(description), "image"),
		strings.Contains(description, "- type eps"),
		strings.Contains(description, "PostScript"),
		strings.Contains(description, "Postscript"):
		return Image
	}
	return Unknown
}

// Classify splits files into images and TeX sources. A file the detector
// cannot place, or fails on, falls back to its extension: .tex is TeX and
// any of allowedImageTypes is an image. Directories and hidden files,
// including macOS metadata, are skipped.
func Classify(ctx context.Context, detector Detector, files []string, allowedImageTypes []string, logger *slog.Logger) (images []string, texFiles []string) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, path := range files {
		if strings.HasPrefix(filepath.Base(path), ".") {
			continue
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			continue
		}

		kind, err := detector.Detect(ctx, path)
		if err != nil {
			logger.Debug("detection failed, using extension", "file", path, "error", err)
		}
		if kind == Unknown {
			kind = byExtension(path, allowedImageTypes)
		}

		switch kind {
		case TeX:
			texFiles = append(texFiles, path)
		case Image:
			images = append(images, path)
		}
	}
	return images, texFiles
}

func byExtension(path string, allowedImageTypes []string) Kind {
	extension := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if extension == "tex" {
		return TeX
	}
	for _, allowed := range allowedImageTypes {
		if extension == strings.ToLower(allowed) {
			return Image
		}
	}
	return Unknown
}
