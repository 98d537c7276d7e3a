package plots

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Report counts what happened while processing one archive.
type Report struct {
	Files              int           `json:"files"`
	TeXFiles           int           `json:"tex_files"`
	Images             int           `json:"images"`
	Converted          int           `json:"converted"`
	ConversionFailures int           `json:"conversion_failures"`
	Records            int           `json:"records"`
	Plots              int           `json:"plots"`
	Duration           time.Duration `json:"duration"`
}

// FormatReport formats a Report for terminal output.
func FormatReport(source string, report Report) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("\nExtraction Report: %s\n", source))
	builder.WriteString(strings.Repeat("═", 60) + "\n")
	builder.WriteString(fmt.Sprintf("Files: %d | TeX: %d | Images: %d\n",
		report.Files, report.TeXFiles, report.Images))
	builder.WriteString(fmt.Sprintf("Converted: %d | Failed: %d\n",
		report.Converted, report.ConversionFailures))
	builder.WriteString(fmt.Sprintf("Records: %d | Plots: %d\n", report.Records, report.Plots))
	builder.WriteString(fmt.Sprintf("Duration: %s\n", report.Duration.Round(time.Millisecond)))

	return builder.String()
}

// FormatPlotTable formats plots as a table.
func FormatPlotTable(plots []ExtractedPlot) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("%-30s %-20s %s\n", "NAME", "LABEL", "CAPTION"))
	builder.WriteString(strings.Repeat("─", 90) + "\n")

	for _, plot := range plots {
		caption := strings.Join(plot.Captions, " | ")
		if runes := []rune(caption); len(runes) > 40 {
			caption = string(runes[:37]) + "..."
		}
		builder.WriteString(fmt.Sprintf("%-30s %-20s %s\n", plot.Name, plot.Label, caption))
	}

	builder.WriteString(fmt.Sprintf("\nTotal: %d plots\n", len(plots)))

	return builder.String()
}

// FormatPlotsJSON formats plots as indented JSON.
func FormatPlotsJSON(plots []ExtractedPlot) (string, error) {
	if plots == nil {
		plots = []ExtractedPlot{}
	}
	data, err := json.MarshalIndent(plots, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plots: %w", err)
	}
	return string(data), nil
}
