// Package plots runs the full figure extraction pipeline over a submission
// archive: unpack, classify, convert images, scan every TeX file and merge
// the figure records into plots with resolved image paths.
package plots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/inspirehep/plotextractor/pkg/archive"
	"github.com/inspirehep/plotextractor/pkg/convert"
	"github.com/inspirehep/plotextractor/pkg/detect"
	"github.com/inspirehep/plotextractor/pkg/extract"
)

var (
	// ErrInvalidTarball is returned when the input is not a supported archive.
	ErrInvalidTarball = archive.ErrInvalidArchive

	// ErrNoTeXFiles is returned when an archive holds no TeX source.
	ErrNoTeXFiles = errors.New("no TeX files found")
)

// ExtractedPlot is one figure image with everything known about it.
type ExtractedPlot struct {
	URL         string   `json:"url"`
	OriginalURL string   `json:"original_url"`
	Captions    []string `json:"captions"`
	Label       string   `json:"label"`
	Name        string   `json:"name"`
	// Contexts is nil unless context extraction was requested.
	Contexts []string `json:"contexts,omitempty"`
}

type plotJSON struct {
	URL         string    `json:"url"`
	OriginalURL string    `json:"original_url"`
	Captions    []string  `json:"captions"`
	Label       string    `json:"label"`
	Name        string    `json:"name"`
	Contexts    *[]string `json:"contexts,omitempty"`
}

// MarshalJSON writes contexts whenever they were requested, even when no
// reference to the label was found.
func (plot ExtractedPlot) MarshalJSON() ([]byte, error) {
	encoded := plotJSON{
		URL:         plot.URL,
		OriginalURL: plot.OriginalURL,
		Captions:    plot.Captions,
		Label:       plot.Label,
		Name:        plot.Name,
	}
	if encoded.Captions == nil {
		encoded.Captions = []string{}
	}
	if plot.Contexts != nil {
		contexts := plot.Contexts
		encoded.Contexts = &contexts
	}
	return json.Marshal(encoded)
}

// Config groups the settings of every pipeline stage.
type Config struct {
	Extract extract.Config
	Detect  detect.Config
	Convert convert.Config
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		Extract: extract.DefaultConfig(),
		Detect:  detect.DefaultConfig(),
		Convert: convert.DefaultConfig(),
	}
}

// Options control a single ProcessTarball call.
type Options struct {
	// OutputDirectory receives the unpacked archive. Defaults to
	// "<tarball>_files" next to the archive.
	OutputDirectory string
	// Context enables extraction of the text around label references.
	Context bool
}

// Result is the outcome of processing one archive.
type Result struct {
	OutputDirectory string          `json:"output_directory"`
	Plots           []ExtractedPlot `json:"plots"`
	Report          Report          `json:"report"`
}

// Processor runs the pipeline.
type Processor struct {
	config    Config
	detector  detect.Detector
	converter *convert.Converter
	scanner   *extract.Scanner
	logger    *slog.Logger
}

// NewProcessor builds a Processor from config. A nil logger uses
// slog.Default().
func NewProcessor(config Config, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	detector, err := detect.New(config.Detect)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	converter := convert.NewConverter(config.Convert, logger)
	return &Processor{
		config:    config,
		detector:  detector,
		converter: converter,
		scanner:   extract.NewScanner(config.Extract, converter, logger),
		logger:    logger,
	}, nil
}

// ProcessTarball unpacks tarball and returns the plots found in it.
func (processor *Processor) ProcessTarball(ctx context.Context, tarball string, options Options) (*Result, error) {
	started := time.Now()

	outputDirectory := options.OutputDirectory
	if outputDirectory == "" {
		outputDirectory = tarball + "_files"
	}
	outputDirectory, err := filepath.Abs(outputDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}

	files, err := archive.Extract(tarball, outputDirectory)
	if err != nil {
		return nil, err
	}

	images, texFiles := detect.Classify(ctx, processor.detector, files,
		processor.config.Extract.AllowedImageTypes, processor.logger)
	if len(texFiles) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoTeXFiles, tarball)
	}

	mapping, err := processor.converter.ConvertAll(ctx, images)
	if err != nil {
		return nil, err
	}

	plots, records, err := processor.mapImages(ctx, texFiles, mapping, outputDirectory, options.Context)
	if err != nil {
		return nil, err
	}

	report := Report{
		Files:              len(files),
		TeXFiles:           len(texFiles),
		Images:             len(images),
		Converted:          mapping.Len(),
		ConversionFailures: len(images) - mapping.Len(),
		Records:            records,
		Plots:              len(plots),
		Duration:           time.Since(started),
	}
	processor.logger.Info("processed archive",
		"archive", tarball,
		"tex_files", report.TeXFiles,
		"images", report.Images,
		"plots", report.Plots)

	return &Result{OutputDirectory: outputDirectory, Plots: plots, Report: report}, nil
}

// MapImagesInTeX scans each TeX file and returns the plots found in them,
// in TeX file order.
func (processor *Processor) MapImagesInTeX(ctx context.Context, texFiles []string, mapping *convert.Mapping, outputDirectory string, withContext bool) ([]ExtractedPlot, error) {
	plots, _, err := processor.mapImages(ctx, texFiles, mapping, outputDirectory, withContext)
	return plots, err
}

func (processor *Processor) mapImages(ctx context.Context, texFiles []string, mapping *convert.Mapping, outputDirectory string, withContext bool) ([]ExtractedPlot, int, error) {
	var converted []string
	if mapping != nil {
		converted = mapping.Converted()
	}

	var plots []ExtractedPlot
	recordCount := 0
	for _, texFile := range texFiles {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		records, err := processor.scanner.ExtractCaptions(texFile, outputDirectory, converted)
		if err != nil {
			processor.logger.Warn("failed to scan TeX file", "file", texFile, "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}
		recordCount += len(records)

		prepared := PrepareImageData(records, outputDirectory, mapping)
		if withContext {
			processor.attachContexts(texFile, prepared)
		}
		plots = append(plots, prepared...)
	}
	return plots, recordCount, nil
}

func (processor *Processor) attachContexts(texFile string, plots []ExtractedPlot) {
	text, err := extract.ReadText(texFile)
	if err != nil {
		processor.logger.Warn("failed to read TeX file for context", "file", texFile, "error", err)
	}
	for index := range plots {
		plots[index].Contexts = []string{}
		if text == "" {
			continue
		}
		if contexts := extract.ExtractContext(processor.config.Extract, text, plots[index].Label); contexts != nil {
			plots[index].Contexts = contexts
		}
	}
}
