package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/inspirehep/plotextractor/pkg/plots"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "index", "plots.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveRunAndPlots(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	extracted := []plots.ExtractedPlot{
		{URL: "/out/f1.png", OriginalURL: "/out/f1.eps", Captions: []string{"First.", "Again."}, Label: "fig:one", Name: "f1"},
		{URL: "/out/f2.png", OriginalURL: "/out/f2.png", Captions: []string{"Second."}, Label: "fig:two", Name: "f2", Contexts: []string{}},
		{URL: "/out/f3.png", OriginalURL: "/out/f3.pdf", Captions: []string{"Third."}, Label: "fig:three", Name: "f3", Contexts: []string{"see \\ref{fig:three} here"}},
	}

	run, err := store.SaveRun(ctx, "paper.tar.gz", "/out", extracted)
	if err != nil {
		t.Fatalf("failed to save run: %v", err)
	}
	if run.ID == "" || run.PlotCount != 3 || run.Source != "paper.tar.gz" {
		t.Errorf("unexpected run: %+v", run)
	}

	records, err := store.Plots(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list plots: %v", err)
	}
	if len(records) != len(extracted) {
		t.Fatalf("expected %d records, got %d", len(extracted), len(records))
	}
	for index, record := range records {
		if record.RunID != run.ID || record.Position != index {
			t.Errorf("unexpected record key %q/%d", record.RunID, record.Position)
		}
		if !reflect.DeepEqual(record.Plot, extracted[index]) {
			t.Errorf("expected %+v, got %+v", extracted[index], record.Plot)
		}
	}

	loaded, err := store.Run(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to load run: %v", err)
	}
	if !loaded.CreatedAt.Equal(run.CreatedAt) || loaded.OutputDirectory != "/out" {
		t.Errorf("expected %+v, got %+v", run, loaded)
	}
}

func TestRunsOrderAndLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var saved []Run
	for _, source := range []string{"a.tar", "b.tar", "c.tar"} {
		run, err := store.SaveRun(ctx, source, "/out/"+source, nil)
		if err != nil {
			t.Fatalf("failed to save run: %v", err)
		}
		saved = append(saved, run)
	}

	testCases := []struct {
		name     string
		limit    int
		expected []string
	}{
		{"all runs", 0, []string{"c.tar", "b.tar", "a.tar"}},
		{"limited", 2, []string{"c.tar", "b.tar"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			runs, err := store.Runs(ctx, testCase.limit)
			if err != nil {
				t.Fatalf("failed to list runs: %v", err)
			}
			var sources []string
			for _, run := range runs {
				sources = append(sources, run.Source)
			}
			if !reflect.DeepEqual(sources, testCase.expected) {
				t.Errorf("expected %v, got %v", testCase.expected, sources)
			}
		})
	}

	records, err := store.Plots(ctx, saved[0].ID)
	if err != nil {
		t.Fatalf("failed to list plots: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no plots, got %v", records)
	}
}

func TestPlotsByLabel(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := store.SaveRun(ctx, "v1.tar", "/v1", []plots.ExtractedPlot{
		{URL: "/v1/a.png", Captions: []string{"Old."}, Label: "fig:a", Name: "a"},
		{URL: "/v1/b.png", Captions: []string{"Other."}, Label: "fig:b", Name: "b"},
	})
	if err != nil {
		t.Fatalf("failed to save run: %v", err)
	}
	second, err := store.SaveRun(ctx, "v2.tar", "/v2", []plots.ExtractedPlot{
		{URL: "/v2/a.png", Captions: []string{"New."}, Label: "fig:a", Name: "a"},
	})
	if err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	records, err := store.PlotsByLabel(ctx, "fig:a")
	if err != nil {
		t.Fatalf("failed to query label: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %+v", records)
	}
	if records[0].RunID != first.ID || records[1].RunID != second.ID {
		t.Errorf("expected runs in save order, got %q then %q", records[0].RunID, records[1].RunID)
	}
	if records[1].Plot.Captions[0] != "New." {
		t.Errorf("expected %q, got %q", "New.", records[1].Plot.Captions[0])
	}
	if records[0].Plot.Contexts != nil {
		t.Errorf("expected nil contexts, got %v", records[0].Plot.Contexts)
	}
}

func TestRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	if _, err := store.Run(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}
