package plots

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestFormatReport(t *testing.T) {
	output := FormatReport("paper.tar.gz", Report{
		Files: 5, TeXFiles: 1, Images: 3, Converted: 2, ConversionFailures: 1,
		Records: 4, Plots: 2, Duration: 1500 * time.Millisecond,
	})

	for _, expected := range []string{
		"Extraction Report: paper.tar.gz",
		"Files: 5 | TeX: 1 | Images: 3",
		"Converted: 2 | Failed: 1",
		"Records: 4 | Plots: 2",
		"Duration: 1.5s",
	} {
		if !strings.Contains(output, expected) {
			t.Errorf("expected %q in report:\n%s", expected, output)
		}
	}
}

func TestFormatPlotTable(t *testing.T) {
	output := FormatPlotTable([]ExtractedPlot{
		{Name: "fig1", Label: "fig:one", Captions: []string{"Short."}},
		{Name: "fig2", Label: "fig:two", Captions: []string{strings.Repeat("long ", 20)}},
	})

	if !strings.Contains(output, "fig1") || !strings.Contains(output, "Short.") {
		t.Errorf("expected first plot in table:\n%s", output)
	}
	if !strings.Contains(output, "...") {
		t.Errorf("expected truncated caption in table:\n%s", output)
	}
	if !strings.Contains(output, "Total: 2 plots") {
		t.Errorf("expected total in table:\n%s", output)
	}
}

func TestFormatPlotTableTruncatesOnRunes(t *testing.T) {
	caption := strings.Repeat("é", 36) + "ü" + strings.Repeat("ö", 10)
	output := FormatPlotTable([]ExtractedPlot{{Name: "fig1", Captions: []string{caption}}})

	if !utf8.ValidString(output) {
		t.Errorf("expected valid UTF-8, got %q", output)
	}
	expected := strings.Repeat("é", 36) + "ü..."
	if !strings.Contains(output, expected) {
		t.Errorf("expected %q in table:\n%s", expected, output)
	}
}

func TestFormatPlotsJSON(t *testing.T) {
	output, err := FormatPlotsJSON(nil)
	if err != nil {
		t.Fatalf("failed to format plots: %v", err)
	}
	if output != "[]" {
		t.Errorf("expected %q, got %q", "[]", output)
	}

	output, err = FormatPlotsJSON([]ExtractedPlot{{URL: "/out/a.png", Name: "a"}})
	if err != nil {
		t.Fatalf("failed to format plots: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal([]byte(output), &decoded); err != nil {
		t.Fatalf("failed to decode plots: %v", err)
	}
	if _, ok := decoded[0]["contexts"]; ok {
		t.Errorf("expected no contexts key, got %v", decoded[0])
	}
	if captions, ok := decoded[0]["captions"].([]any); !ok || len(captions) != 0 {
		t.Errorf("expected empty captions list, got %v", decoded[0]["captions"])
	}
}
