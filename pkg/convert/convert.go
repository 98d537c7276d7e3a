// Package convert turns extracted figures into PNG images and applies the
// rotations requested in TeX sources.
package convert

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/inspirehep/plotextractor/pkg/extract"
)

const (
	DefaultWorkers     = 4
	DefaultTimeout     = 60 * time.Second
	DefaultGhostscript = "gs"
	DefaultResolution  = 150
)

// FormatPNG is the only target format supported.
const FormatPNG = "png"

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// vectorExtensions are rendered through Ghostscript.
var vectorExtensions = map[string]bool{
	".eps": true, ".ps": true, ".pdf": true, ".epsi": true, ".epsf": true,
}

// Config tunes image conversion.
type Config struct {
	// Workers bounds concurrent conversions.
	Workers int `yaml:"workers" json:"workers"`
	// Timeout bounds each external conversion.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Ghostscript is the command used for EPS, PS and PDF files.
	Ghostscript string `yaml:"ghostscript" json:"ghostscript"`
	// Resolution is the rendering resolution for vector files, in DPI.
	Resolution int `yaml:"resolution" json:"resolution"`
}

// DefaultConfig returns the default conversion settings.
func DefaultConfig() Config {
	return Config{
		Workers:     DefaultWorkers,
		Timeout:     DefaultTimeout,
		Ghostscript: DefaultGhostscript,
		Resolution:  DefaultResolution,
	}
}

// Mapping relates converted PNG paths to the files they were made from,
// in the order the originals were given.
type Mapping struct {
	converted []string
	originals map[string]string
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{originals: make(map[string]string)}
}

// Add records that converted was produced from original. The first
// original recorded for a converted path wins.
func (mapping *Mapping) Add(converted, original string) {
	if _, exists := mapping.originals[converted]; exists {
		return
	}
	mapping.converted = append(mapping.converted, converted)
	mapping.originals[converted] = original
}

// Converted returns the converted paths in input order.
func (mapping *Mapping) Converted() []string {
	return append([]string(nil), mapping.converted...)
}

// Original returns the file converted was produced from.
func (mapping *Mapping) Original(converted string) (string, bool) {
	original, ok := mapping.originals[converted]
	return original, ok
}

// Len returns the number of converted images.
func (mapping *Mapping) Len() int { return len(mapping.converted) }

// Converter converts and rotates images.
type Converter struct {
	config Config
	logger *slog.Logger
}

// NewConverter creates a Converter. A nil logger uses slog.Default().
func NewConverter(config Config, logger *slog.Logger) *Converter {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Ghostscript == "" {
		config.Ghostscript = DefaultGhostscript
	}
	if config.Resolution <= 0 {
		config.Resolution = DefaultResolution
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{config: config, logger: logger}
}

// ConvertAll converts every image to PNG, in parallel. Images that fail to
// convert are logged and left out of the mapping. When two images would be
// converted to the same file, only the first is converted. The returned
// error is non-nil only when ctx is done.
func (converter *Converter) ConvertAll(ctx context.Context, images []string) (*Mapping, error) {
	targets := make([]string, len(images))
	claimed := make(map[string]bool)
	for index, source := range images {
		target := extract.ConvertedName(source)
		if claimed[target] {
			converter.logger.Debug("conversion target already claimed", "image", source, "target", target)
			continue
		}
		claimed[target] = true
		targets[index] = target
	}

	results := make([]string, len(images))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(converter.config.Workers)
	for index, source := range images {
		if targets[index] == "" {
			continue
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			converted, err := converter.Convert(groupCtx, source, FormatPNG)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				converter.logger.Warn("image conversion failed", "image", source, "error", err)
				return nil
			}
			results[index] = converted
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("failed to convert images: %w", err)
	}

	mapping := NewMapping()
	for index, converted := range results {
		if converted != "" {
			mapping.Add(converted, images[index])
		}
	}
	return mapping, nil
}

// Convert converts source into format and returns the new path, which sits
// next to source with a .png extension. PNG files are returned unchanged.
func (converter *Converter) Convert(ctx context.Context, source string, format string) (string, error) {
	if format != FormatPNG {
		return "", fmt.Errorf("unsupported target format %q", format)
	}

	isPNG, err := hasPNGHeader(source)
	if err != nil {
		return "", err
	}
	if isPNG {
		return source, nil
	}

	target := extract.ConvertedName(source)
	if vectorExtensions[strings.ToLower(filepath.Ext(source))] {
		return target, converter.renderVector(ctx, source, target)
	}
	return target, convertRaster(source, target)
}

func (converter *Converter) renderVector(ctx context.Context, source, target string) error {
	ctx, cancel := context.WithTimeout(ctx, converter.config.Timeout)
	defer cancel()

	command := exec.CommandContext(ctx, converter.config.Ghostscript,
		"-dSAFER", "-dBATCH", "-dNOPAUSE", "-dQUIET", "-dEPSCrop",
		"-sDEVICE=png16m", "-dTextAlphaBits=4", "-dGraphicsAlphaBits=4",
		fmt.Sprintf("-r%d", converter.config.Resolution),
		"-dFirstPage=1", "-dLastPage=1",
		"-sOutputFile="+target, source)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		os.Remove(target)
		return fmt.Errorf("failed to render %s: %w: %s", source, err, strings.TrimSpace(stderr.String()))
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("failed to render %s: no output produced", source)
	}
	return nil
}

func convertRaster(source, target string) error {
	decoded, _, err := decodeFile(source)
	if err != nil {
		return err
	}
	return encodeFile(target, decoded, "png")
}

func decodeFile(path string) (image.Image, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	decoded, format, err := image.Decode(bufio.NewReader(file))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return decoded, format, nil
}

func encodeFile(path string, picture image.Image, format string) error {
	temporaryPath := path + ".tmp"
	outputFile, err := os.Create(temporaryPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", temporaryPath, err)
	}

	writer := bufio.NewWriter(outputFile)
	switch format {
	case "jpeg":
		err = jpeg.Encode(writer, picture, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(writer, picture)
	}
	if err == nil {
		err = writer.Flush()
	}
	if closeErr := outputFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func hasPNGHeader(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	header := make([]byte, len(pngMagic))
	if _, err := io.ReadFull(file, header); err != nil {
		return false, nil
	}
	return bytes.Equal(header, pngMagic), nil
}
