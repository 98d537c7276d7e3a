package plots

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	picture := image.NewRGBA(image.Rect(0, 0, 2, 2))
	picture.Set(0, 0, color.RGBA{G: 255, A: 255})
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, picture); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buffer.Bytes()
}

func createTestTarball(t *testing.T, path string, files map[string][]byte) {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buffer bytes.Buffer
	gzipWriter := gzip.NewWriter(&buffer)
	tarWriter := tar.NewWriter(gzipWriter)
	for _, name := range names {
		header := &tar.Header{Name: name, Mode: 0644, Size: int64(len(files[name])), Typeflag: tar.TypeReg}
		if err := tarWriter.WriteHeader(header); err != nil {
			t.Fatalf("failed to write header: %v", err)
		}
		if _, err := tarWriter.Write(files[name]); err != nil {
			t.Fatalf("failed to write entry: %v", err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	if err := gzipWriter.Close(); err != nil {
		t.Fatalf("failed to close gzip: %v", err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write tarball: %v", err)
	}
}

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	config := DefaultConfig()
	config.Convert.Ghostscript = "plotextractor-missing-gs"
	processor, err := NewProcessor(config, nil)
	if err != nil {
		t.Fatalf("failed to create processor: %v", err)
	}
	return processor
}

var figureNames = []string{
	"d15-120f1", "d15-120f2",
	"d15-120f3a", "d15-120f3b", "d15-120f3c", "d15-120f3d",
	"d15-120f4", "d15-120f5",
	"d15-120f6a", "d15-120f6b", "d15-120f6c", "d15-120f6d", "d15-120f6e",
	"d15-120f7", "d15-120f8", "d15-120f9", "d15-120f10", "d15-120f11",
	"d15-120f12a", "d15-120f12b", "d15-120f12c",
	"d15-120f13",
}

func figureArchive(t *testing.T, directory string) string {
	t.Helper()

	var source strings.Builder
	source.WriteString("\\documentclass{article}\n\\begin{document}\n")
	source.WriteString("Our results appear in Figure \\ref{fig:d15-120f1}. The fit is good.\n")
	files := map[string][]byte{}
	for index, name := range figureNames {
		fmt.Fprintf(&source, "\\begin{figure}\n\\centering\n\\includegraphics[width=0.8\\textwidth]{%s}\n", name)
		fmt.Fprintf(&source, "\\caption{Figure %d of the paper.}\n\\label{fig:%s}\n\\end{figure}\n", index+1, name)
		files[name+".png"] = pngBytes(t)
	}
	source.WriteString("\\end{document}\n")
	files["d15-120.tex"] = []byte(source.String())

	tarball := filepath.Join(directory, "d15-120.tar.gz")
	createTestTarball(t, tarball, files)
	return tarball
}

func TestProcessTarballFigureOrder(t *testing.T) {
	directory := t.TempDir()
	tarball := figureArchive(t, directory)

	result, err := newTestProcessor(t).ProcessTarball(context.Background(), tarball, Options{})
	if err != nil {
		t.Fatalf("failed to process tarball: %v", err)
	}

	expectedDirectory := tarball + "_files"
	if result.OutputDirectory != expectedDirectory {
		t.Errorf("expected output directory %q, got %q", expectedDirectory, result.OutputDirectory)
	}
	if len(result.Plots) != len(figureNames) {
		t.Fatalf("expected %d plots, got %d", len(figureNames), len(result.Plots))
	}
	for index, plot := range result.Plots {
		if plot.Name != figureNames[index] {
			t.Errorf("expected plot %d to be %q, got %q", index, figureNames[index], plot.Name)
		}
		expectedURL := filepath.Join(expectedDirectory, figureNames[index]+".png")
		if plot.URL != expectedURL || plot.OriginalURL != expectedURL {
			t.Errorf("expected url %q, got %q (original %q)", expectedURL, plot.URL, plot.OriginalURL)
		}
		expectedCaption := fmt.Sprintf("Figure %d of the paper.", index+1)
		if len(plot.Captions) != 1 || plot.Captions[0] != expectedCaption {
			t.Errorf("expected captions [%q], got %v", expectedCaption, plot.Captions)
		}
		if plot.Label != "fig:"+figureNames[index] {
			t.Errorf("expected label %q, got %q", "fig:"+figureNames[index], plot.Label)
		}
		if plot.Contexts != nil {
			t.Errorf("expected no contexts, got %v", plot.Contexts)
		}
	}

	report := result.Report
	if report.TeXFiles != 1 || report.Images != 22 || report.Converted != 22 || report.Plots != 22 || report.Records != 22 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestProcessTarballContext(t *testing.T) {
	directory := t.TempDir()
	tarball := figureArchive(t, directory)
	output := filepath.Join(directory, "out")

	result, err := newTestProcessor(t).ProcessTarball(context.Background(), tarball,
		Options{OutputDirectory: output, Context: true})
	if err != nil {
		t.Fatalf("failed to process tarball: %v", err)
	}
	if result.OutputDirectory != output {
		t.Errorf("expected output directory %q, got %q", output, result.OutputDirectory)
	}

	first := result.Plots[0]
	if len(first.Contexts) != 1 {
		t.Fatalf("expected 1 context, got %v", first.Contexts)
	}
	if !strings.Contains(first.Contexts[0], `\ref{fig:d15-120f1}`) || !strings.Contains(first.Contexts[0], "The fit is good.") {
		t.Errorf("unexpected context %q", first.Contexts[0])
	}

	second := result.Plots[1]
	if second.Contexts == nil || len(second.Contexts) != 0 {
		t.Errorf("expected empty contexts, got %#v", second.Contexts)
	}
	encoded, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("failed to marshal plot: %v", err)
	}
	if !strings.Contains(string(encoded), `"contexts":[]`) {
		t.Errorf("expected empty contexts in %s", encoded)
	}
}

func TestProcessTarballSubfloats(t *testing.T) {
	directory := t.TempDir()
	tarball := filepath.Join(directory, "panels.tar.gz")
	createTestTarball(t, tarball, map[string][]byte{
		"main.tex": []byte(`\documentclass{article}
\begin{document}
\begin{figure}
\centering
\subfloat[Left panel]{\includegraphics{figs/left.png}}
\subfloat[Right panel]{\includegraphics{figs/right.png}}
\caption{Both panels.}
\label{fig:panels}
\end{figure}
\end{document}
`),
		"figs/left.png":  pngBytes(t),
		"figs/right.png": pngBytes(t),
	})

	result, err := newTestProcessor(t).ProcessTarball(context.Background(), tarball, Options{})
	if err != nil {
		t.Fatalf("failed to process tarball: %v", err)
	}

	expected := []struct {
		name    string
		caption string
	}{
		{"figs_left", "Both panels. : Left panel"},
		{"figs_right", "Both panels. : Right panel"},
	}
	if len(result.Plots) != len(expected) {
		t.Fatalf("expected %d plots, got %+v", len(expected), result.Plots)
	}
	for index, testCase := range expected {
		plot := result.Plots[index]
		if plot.Name != testCase.name {
			t.Errorf("expected name %q, got %q", testCase.name, plot.Name)
		}
		if len(plot.Captions) != 1 || plot.Captions[0] != testCase.caption {
			t.Errorf("expected caption %q, got %v", testCase.caption, plot.Captions)
		}
		if plot.Label != "fig:panels" {
			t.Errorf("expected label %q, got %q", "fig:panels", plot.Label)
		}
	}
}

func TestProcessTarballInputErrors(t *testing.T) {
	directory := t.TempDir()

	noTeX := filepath.Join(directory, "images.tar.gz")
	createTestTarball(t, noTeX, map[string][]byte{"plot.png": pngBytes(t)})

	notArchive := filepath.Join(directory, "notes.tar.gz")
	if err := os.WriteFile(notArchive, []byte("just some text"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	testCases := []struct {
		name     string
		tarball  string
		expected error
	}{
		{"no TeX files", noTeX, ErrNoTeXFiles},
		{"not an archive", notArchive, ErrInvalidTarball},
	}

	processor := newTestProcessor(t)
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			result, err := processor.ProcessTarball(context.Background(), testCase.tarball,
				Options{OutputDirectory: filepath.Join(directory, testCase.name)})
			if !errors.Is(err, testCase.expected) {
				t.Errorf("expected %v, got %v", testCase.expected, err)
			}
			if result != nil {
				t.Errorf("expected no result, got %+v", result)
			}
		})
	}
}
