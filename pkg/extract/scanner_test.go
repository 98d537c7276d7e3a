package extract

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func setupTestDocument(t *testing.T, files map[string]string) string {
	t.Helper()
	temporaryDir := t.TempDir()
	for name, content := range files {
		writeTestFile(t, filepath.Join(temporaryDir, name), content)
	}
	return temporaryDir
}

func scanTestDocument(t *testing.T, directory string, rotator Rotator) []FigureRecord {
	t.Helper()
	scanner := NewScanner(DefaultConfig(), rotator, nil)
	records, err := scanner.ExtractCaptions(filepath.Join(directory, "main.tex"), directory, nil)
	if err != nil {
		t.Fatalf("failed to scan document: %v", err)
	}
	return records
}

func TestExtractCaptionsSequentialFigures(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{"main.tex": `\documentclass{article}
\begin{document}
\begin{figure}
\includegraphics[width=0.5\textwidth]{plot1.png}
\caption{First plot.}
\label{fig:one}
\end{figure}
Text between figures.
\begin{figure*}
\centering
\includegraphics{plot2}
\caption{Second plot.}
\label{fig:two}
\end{figure*}
\end{document}
`})

	records := scanTestDocument(t, directory, nil)
	expected := []FigureRecord{
		{Image: "plot1.png", Caption: "First plot.", Label: "fig:one"},
		{Image: "plot2", Caption: "Second plot.", Label: "fig:two"},
	}
	if !reflect.DeepEqual(records, expected) {
		t.Errorf("expected %+v, got %+v", expected, records)
	}
}

func TestExtractCaptionsSubfloats(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{"main.tex": `\begin{document}
\begin{figure}
\centering
\subfloat[Left panel]{\includegraphics{left.png}}
\subfloat[Right panel]{
  \includegraphics{right.png}}
\caption{Both panels.}
\label{fig:panels}
\end{figure}
\end{document}
`})

	records := scanTestDocument(t, directory, nil)
	expected := []FigureRecord{
		{Image: "left.png", Caption: "Both panels. : Left panel", Label: "fig:panels"},
		{Image: "right.png", Caption: "Both panels. : Right panel", Label: "fig:panels"},
	}
	if !reflect.DeepEqual(records, expected) {
		t.Errorf("expected %+v, got %+v", expected, records)
	}
}

func TestExtractCaptionsSubfiguresStayInTheirFigure(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{"main.tex": `\begin{document}
\begin{figure}
\subfigure[Left]{\epsfig{file=a.eps}}
\subfigure[Right]{\epsfig{file=b.eps}}
\caption{First figure.}
\label{fig:first}
\end{figure}
\begin{figure}
\includegraphics{c.png}
\caption{Second figure.}
\label{fig:second}
\end{figure}
\end{document}
`})

	records := scanTestDocument(t, directory, nil)
	expected := []FigureRecord{
		{Image: "a.eps", Caption: "First figure. : Left", Label: "fig:first"},
		{Image: "b.eps", Caption: "First figure. : Right", Label: "fig:first"},
		{Image: "c.png", Caption: "Second figure.", Label: "fig:second"},
	}
	if !reflect.DeepEqual(records, expected) {
		t.Errorf("expected %+v, got %+v", expected, records)
	}
}

func TestExtractCaptionsSubfloatWithoutImage(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{"main.tex": `\begin{document}
\begin{figure}
\subfloat[Empty]{\rule{1cm}{1cm}}
\caption{Placeholder.}
\end{figure}
\begin{figure}
\includegraphics{next.png}
\caption{Next.}
\end{figure}
\end{document}
`})

	records := scanTestDocument(t, directory, nil)
	expected := []FigureRecord{
		{Image: "", Caption: "Placeholder. : Empty"},
		{Image: "next.png", Caption: "Next."},
	}
	if !reflect.DeepEqual(records, expected) {
		t.Errorf("expected %+v, got %+v", expected, records)
	}
}

func TestExtractCaptionsSubfloatBodyLines(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		expected []FigureRecord
	}{
		{
			name: "label between subfloat and image",
			body: `\subfloat[Left]{%
\label{fig:left}
\includegraphics{a.png}}
\caption{Main.}`,
			expected: []FigureRecord{{Image: "a.png", Caption: "Main. : Left", Label: "fig:left"}},
		},
		{
			name: "caption between subfloat and image",
			body: `\subfloat[Left]{%
\caption{Main.}
\includegraphics{a.png}}
\label{fig:main}`,
			expected: []FigureRecord{{Image: "a.png", Caption: "Main. : Left", Label: "fig:main"}},
		},
		{
			name: "image on the line closing the figure",
			body: `\subfloat[Left]{%
\includegraphics{a.png}}\end{figure}`,
			expected: []FigureRecord{{Image: "a.png", Caption: "Left"}},
		},
		{
			name: "image on the next subfloat line is not taken",
			body: `\subfloat[Left]{\rule{1cm}{1cm}}
\subfloat[Right]{\includegraphics{b.png}}
\caption{Main.}`,
			expected: []FigureRecord{
				{Image: "", Caption: "Main. : Left"},
				{Image: "b.png", Caption: "Main. : Right"},
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			directory := setupTestDocument(t, map[string]string{"main.tex": "\\begin{document}\n\\begin{figure}\n" +
				testCase.body + "\n\\end{figure}\n\\end{document}\n"})

			records := scanTestDocument(t, directory, nil)
			if !reflect.DeepEqual(records, testCase.expected) {
				t.Errorf("expected %+v, got %+v", testCase.expected, records)
			}
		})
	}
}

func TestExtractCaptionsConsecutiveEpsfigLines(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{"main.tex": `\begin{document}
\begin{figure}
\epsfig{file=a.eps,width=6cm}
\epsfig{file=b.eps,width=6cm}
\caption{Pair.}
\end{figure}
\end{document}
`})

	records := scanTestDocument(t, directory, nil)
	var images []string
	for _, record := range records {
		if strings.HasSuffix(record.Image, ".eps") && !strings.Contains(record.Image, "=") {
			images = append(images, record.Image)
		}
	}
	expected := []string{"a.eps", "b.eps"}
	if !reflect.DeepEqual(images, expected) {
		t.Errorf("expected each image once %q, got %q from %+v", expected, images, records)
	}
}

func TestExtractCaptionsInclusionDepth(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{
		"main.tex": `\begin{document}
\include{a}
\end{document}
`,
		"a.tex": `\begin{figure}
\includegraphics{fromA.png}
\caption{From A.}
\end{figure}
\include{b}
`,
		"b.tex": `\begin{figure}
\includegraphics{fromB.png}
\caption{From B.}
\end{figure}
`,
	})

	records := scanTestDocument(t, directory, nil)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d: %+v", len(records), records)
	}
	if records[0].Image != "fromA.png" {
		t.Errorf("expected fromA.png, got %q", records[0].Image)
	}
}

func TestExtractCaptionsInputExpandsOnce(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{
		"main.tex": `\begin{document}
\input{sections/results}
\end{document}
`,
		"sections/results.tex": `\begin{figure}
\includegraphics{result.png}
\caption{Result.}
\end{figure}
`,
	})

	records := scanTestDocument(t, directory, nil)
	if len(records) != 1 || records[0].Image != "result.png" {
		t.Errorf("expected the included figure, got %+v", records)
	}
}

func TestExtractCaptionsLabels(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{"main.tex": `\begin{document}
\label{outside}
\begin{figure}
\includegraphics{a.png}
\caption{A.}
\label{fig:a}
\end{figure}
\begin{figure}
\includegraphics{b.png}
\caption{B.}
\label{fig:a}
\end{figure}
\begin{figure}
\includegraphics{c.png}
\caption{C.}
\end{figure}
\end{document}
`})

	records := scanTestDocument(t, directory, nil)
	labels := make([]string, 0, len(records))
	for _, record := range records {
		labels = append(labels, record.Label)
	}
	expected := []string{"fig:a", "", ""}
	if !reflect.DeepEqual(labels, expected) {
		t.Errorf("expected labels %q, got %q", expected, labels)
	}
}

func TestExtractCaptionsCommentsAndPreamble(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{"main.tex": `\documentclass{article}
\begin{figure}\includegraphics{pre.png}\caption{Preamble.}\end{figure}
\begin{document}
% \begin{figure}\includegraphics{commented.png}\caption{Hidden.}\end{figure}
\begin{figure}\includegraphics{one.png}\caption{Fifty 50\% done.}\end{figure} % trailing
\end{document}
\begin{figure}\includegraphics{after.png}\caption{After.}\end{figure}
`})

	records := scanTestDocument(t, directory, nil)
	expected := []FigureRecord{{Image: "one.png", Caption: `Fifty 50\% done.`}}
	if !reflect.DeepEqual(records, expected) {
		t.Errorf("expected %+v, got %+v", expected, records)
	}
}

func TestExtractCaptionsLatin1(t *testing.T) {
	directory := t.TempDir()
	content := "\\begin{document}\n\\begin{figure}\n\\includegraphics{cafe.png}\n\\caption{Caf\xe9 data.}\n\\end{figure}\n\\end{document}\n"
	writeTestFile(t, filepath.Join(directory, "main.tex"), content)

	records := scanTestDocument(t, directory, nil)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Caption != "Caf\u00e9 data." {
		t.Errorf("expected decoded caption, got %q", records[0].Caption)
	}
}

func TestExtractCaptionsFlushesAtEndOfInput(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{"main.tex": `\begin{document}
\includegraphics{stray.png}
\caption{Stray.}
`})

	records := scanTestDocument(t, directory, nil)
	expected := []FigureRecord{{Image: "stray.png", Caption: "Stray."}}
	if !reflect.DeepEqual(records, expected) {
		t.Errorf("expected %+v, got %+v", expected, records)
	}
}

func TestExtractCaptionsCaptionWithoutImage(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{"main.tex": `\begin{document}
\begin{wrapfigure}{r}{0.5\textwidth}
\caption{Only a caption.}
\end{wrapfigure}
\end{document}
`})

	records := scanTestDocument(t, directory, nil)
	expected := []FigureRecord{{Image: "", Caption: "noimgOnly a caption."}}
	if !reflect.DeepEqual(records, expected) {
		t.Errorf("expected %+v, got %+v", expected, records)
	}
}

func TestExtractCaptionsLegacyInclusion(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{"main.tex": `\begin{document}
\begin{figure}
\epsfig{file=plot.eps,width=6cm}
\caption{Legacy.}
\end{figure}
\end{document}
`})

	records := scanTestDocument(t, directory, nil)
	if len(records) == 0 {
		t.Fatal("expected records")
	}
	if records[0].Image != "plot.eps" {
		t.Errorf("expected plot.eps first, got %q", records[0].Image)
	}
	for _, record := range records {
		if record.Caption != "Legacy." {
			t.Errorf("expected caption Legacy., got %q", record.Caption)
		}
	}
}

type recordingRotator struct {
	paths   []string
	degrees []int
}

func (rotator *recordingRotator) Rotate(path string, degrees int) error {
	rotator.paths = append(rotator.paths, path)
	rotator.degrees = append(rotator.degrees, degrees)
	return nil
}

func TestExtractCaptionsRotation(t *testing.T) {
	directory := setupTestDocument(t, map[string]string{
		"main.tex": `\begin{document}
\begin{figure}
\includegraphics[angle=90]{rot.png}
\caption{Rotated.}
\end{figure}
\end{document}
`,
		"rot.png": "not really a png",
	})

	rotator := &recordingRotator{}
	scanTestDocument(t, directory, rotator)

	if len(rotator.paths) != 1 {
		t.Fatalf("expected one rotation, got %v", rotator.paths)
	}
	if !strings.HasSuffix(rotator.paths[0], "rot.png") {
		t.Errorf("expected rot.png to be rotated, got %s", rotator.paths[0])
	}
	if rotator.degrees[0] != -90 {
		t.Errorf("expected -90 degrees, got %d", rotator.degrees[0])
	}
}

func TestExtractCaptionsMissingFile(t *testing.T) {
	scanner := NewScanner(DefaultConfig(), nil, nil)
	directory := t.TempDir()

	if _, err := scanner.ExtractCaptions(filepath.Join(directory, "absent.tex"), directory, nil); err == nil {
		t.Error("expected an error for a missing file")
	}
	if _, err := scanner.ExtractCaptions(directory, directory, nil); err == nil {
		t.Error("expected an error for a directory")
	}
}
