package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inspirehep/plotextractor/pkg/config"
	"github.com/inspirehep/plotextractor/pkg/extract"
	"github.com/inspirehep/plotextractor/pkg/plots"
	"github.com/inspirehep/plotextractor/pkg/server"
	"github.com/inspirehep/plotextractor/pkg/store"
	"github.com/inspirehep/plotextractor/pkg/watch"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "plotextractor",
		Short: "Extract figures and captions from TeX sources",
		Long: `Plotextractor finds the figures of a scholarly paper in its TeX source
archive and returns one record per image with its captions, label and,
optionally, the sentences that reference it.

It can run once on an archive, watch an inbox directory, or serve an
HTTP API, and keeps an SQLite index of every processed archive.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", config.DefaultFile, "Configuration file")

	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(plotsCmd())
	rootCmd.AddCommand(configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration named by --config and installs its logger
// as the default.
func setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	loaded, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := loaded.Log.NewLogger(os.Stderr)
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)
	return loaded, logger, nil
}

func openStore(loaded config.Config) (*store.Store, error) {
	if loaded.Store.Path == "" {
		return nil, fmt.Errorf("store.path is not configured")
	}
	index, err := store.Open(loaded.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", loaded.Store.Path, err)
	}
	return index, nil
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <archive>",
		Short: "Extract the plots of a TeX source archive",
		Long: `Unpack a TeX source archive, convert its images to PNG and pair every
image with its caption and label.

Supported archives: tar, tar.gz, tar.bz2, zip

Examples:
  plotextractor extract 1503.01234.tar.gz
  plotextractor extract paper.tar.gz --output /tmp/paper --context --json
  plotextractor extract paper.tar.gz --store`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDirectory, _ := cmd.Flags().GetString("output")
			withContext, _ := cmd.Flags().GetBool("context")
			saveToStore, _ := cmd.Flags().GetBool("store")
			asJSON, _ := cmd.Flags().GetBool("json")
			showReport, _ := cmd.Flags().GetBool("report")

			loaded, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			processor, err := plots.NewProcessor(loaded.Pipeline(), logger)
			if err != nil {
				return err
			}

			result, err := processor.ProcessTarball(cmd.Context(), args[0], plots.Options{
				OutputDirectory: outputDirectory,
				Context:         withContext,
			})
			if err != nil {
				return fmt.Errorf("failed to process %s: %w", args[0], err)
			}

			if saveToStore {
				index, err := openStore(loaded)
				if err != nil {
					return err
				}
				defer index.Close()
				run, err := index.SaveRun(cmd.Context(), args[0], result.OutputDirectory, result.Plots)
				if err != nil {
					return fmt.Errorf("failed to save run: %w", err)
				}
				logger.Info("saved run", "run_id", run.ID, "plots", run.PlotCount)
			}

			if asJSON {
				output, err := plots.FormatPlotsJSON(result.Plots)
				if err != nil {
					return err
				}
				fmt.Println(output)
			} else {
				fmt.Printf("Output directory: %s\n\n", result.OutputDirectory)
				fmt.Print(plots.FormatPlotTable(result.Plots))
			}
			if showReport {
				fmt.Fprint(os.Stderr, plots.FormatReport(args[0], result.Report))
			}
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "Extraction directory (default: <archive>_files)")
	cmd.Flags().Bool("context", false, "Extract the text around references to each figure")
	cmd.Flags().Bool("store", false, "Save the run in the configured store")
	cmd.Flags().Bool("json", false, "Print plots as JSON")
	cmd.Flags().Bool("report", false, "Print processing counters to stderr")

	return cmd
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <file.tex>",
		Short: "Print the raw figure records of one TeX file",
		Long: `Run the figure scanner on a single TeX file without unpacking or
converting anything. Image names are printed as written in the source.

Examples:
  plotextractor scan paper/main.tex
  plotextractor scan main.tex --images-dir figures --context`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imagesDirectory, _ := cmd.Flags().GetString("images-dir")
			withContext, _ := cmd.Flags().GetBool("context")
			asJSON, _ := cmd.Flags().GetBool("json")

			loaded, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			texFile := args[0]
			if imagesDirectory == "" {
				imagesDirectory = filepath.Dir(texFile)
			}

			scanner := extract.NewScanner(loaded.Extract, nil, logger)
			records, err := scanner.ExtractCaptions(texFile, imagesDirectory, nil)
			if err != nil {
				return fmt.Errorf("failed to scan %s: %w", texFile, err)
			}

			contexts := map[string][]string{}
			if withContext {
				text, err := extract.ReadText(texFile)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", texFile, err)
				}
				for _, record := range records {
					if _, done := contexts[record.Label]; !done && record.Label != "" {
						contexts[record.Label] = extract.ExtractContext(loaded.Extract, text, record.Label)
					}
				}
			}

			if asJSON {
				data, err := json.MarshalIndent(records, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal records: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			for index, record := range records {
				fmt.Printf("%d. %s\n", index+1, displayOrDash(record.Image))
				fmt.Printf("   Caption: %s\n", truncateString(record.Caption, 100))
				fmt.Printf("   Label:   %s\n", displayOrDash(record.Label))
				for _, snippet := range contexts[record.Label] {
					fmt.Printf("   Context: %s\n", truncateString(snippet, 100))
				}
			}
			fmt.Printf("\nTotal: %d records\n", len(records))
			return nil
		},
	}

	cmd.Flags().String("images-dir", "", "Directory searched for images (default: the TeX file's directory)")
	cmd.Flags().Bool("context", false, "Print the text around references to each label")
	cmd.Flags().Bool("json", false, "Print records as JSON")

	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Process archives dropped into an inbox directory",
		Long: `Watch an inbox directory and process every archive that appears in it.
Archives already handled are tracked in a manifest and skipped on restart;
an archive that failed is retried only after it changes.

Examples:
  plotextractor watch --inbox /srv/arxiv/inbox --output /srv/arxiv/plots
  plotextractor watch --store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			inboxDirectory, _ := cmd.Flags().GetString("inbox")
			outputDirectory, _ := cmd.Flags().GetString("output")
			saveToStore, _ := cmd.Flags().GetBool("store")
			withContext, _ := cmd.Flags().GetBool("context")

			loaded, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			watchConfig := loaded.Watch
			if inboxDirectory != "" {
				watchConfig.Inbox = inboxDirectory
			}
			if outputDirectory != "" {
				watchConfig.OutputDirectory = outputDirectory
			}

			processor, err := plots.NewProcessor(loaded.Pipeline(), logger)
			if err != nil {
				return err
			}

			var index *store.Store
			if saveToStore {
				index, err = openStore(loaded)
				if err != nil {
					return err
				}
				defer index.Close()
			}

			handler := func(ctx context.Context, archivePath, archiveOutput string) (int, error) {
				result, err := processor.ProcessTarball(ctx, archivePath, plots.Options{
					OutputDirectory: archiveOutput,
					Context:         withContext,
				})
				if err != nil {
					return 0, err
				}
				if index != nil {
					if _, err := index.SaveRun(ctx, archivePath, result.OutputDirectory, result.Plots); err != nil {
						return 0, fmt.Errorf("failed to save run: %w", err)
					}
				}
				return len(result.Plots), nil
			}

			inbox, err := watch.NewInbox(watchConfig, handler, logger)
			if err != nil {
				return err
			}
			return inbox.Run(cmd.Context())
		},
	}

	cmd.Flags().String("inbox", "", "Inbox directory (default: watch.inbox)")
	cmd.Flags().StringP("output", "o", "", "Output directory (default: watch.output_directory)")
	cmd.Flags().Bool("store", false, "Save every run in the configured store")
	cmd.Flags().Bool("context", false, "Extract the text around references to each figure")

	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the extraction HTTP API",
		Long: `Start an HTTP server that accepts archive uploads and answers queries
against the run index.

Endpoints:
  GET  /healthz
  POST /v1/extract              multipart field "archive", ?context=true
  GET  /v1/runs                 ?limit=N
  GET  /v1/runs/{runID}/plots
  GET  /v1/labels/{label}

Examples:
  plotextractor serve
  plotextractor serve --addr 127.0.0.1:9000 --no-store`,
		RunE: func(cmd *cobra.Command, args []string) error {
			address, _ := cmd.Flags().GetString("addr")
			noStore, _ := cmd.Flags().GetBool("no-store")

			loaded, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			serverConfig := loaded.Server
			if address != "" {
				serverConfig.Address = address
			}

			processor, err := plots.NewProcessor(loaded.Pipeline(), logger)
			if err != nil {
				return err
			}

			if noStore || loaded.Store.Path == "" {
				return server.New(serverConfig, processor, nil, logger).ListenAndServe(cmd.Context())
			}
			index, err := openStore(loaded)
			if err != nil {
				return err
			}
			defer index.Close()
			return server.New(serverConfig, processor, index, logger).ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default: server.address)")
	cmd.Flags().Bool("no-store", false, "Run without the run index")

	return cmd
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List processed archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			loaded, _, err := setup(cmd)
			if err != nil {
				return err
			}
			index, err := openStore(loaded)
			if err != nil {
				return err
			}
			defer index.Close()

			runs, err := index.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON {
				if runs == nil {
					runs = []store.Run{}
				}
				data, err := json.MarshalIndent(runs, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal runs: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("%-36s %-20s %-6s %s\n", "ID", "CREATED", "PLOTS", "SOURCE")
			fmt.Println(strings.Repeat("─", 100))
			for _, run := range runs {
				fmt.Printf("%-36s %-20s %-6d %s\n",
					run.ID, run.CreatedAt.Local().Format("2006-01-02 15:04:05"), run.PlotCount,
					truncateString(run.Source, 36))
			}
			fmt.Printf("\nTotal: %d runs\n", len(runs))
			return nil
		},
	}

	cmd.Flags().Int("limit", 20, "Maximum number of runs (0 for all)")
	cmd.Flags().Bool("json", false, "Print runs as JSON")

	return cmd
}

func plotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plots [run-id]",
		Short: "List the plots of a run, or every plot with a label",
		Long: `List stored plots.

Examples:
  plotextractor plots 2b6f0c2e-4d1c-4a53-9d0b-5f3f6e3d2a10
  plotextractor plots --label fig:mass --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label, _ := cmd.Flags().GetString("label")
			asJSON, _ := cmd.Flags().GetBool("json")

			if (len(args) == 0) == (label == "") {
				return fmt.Errorf("give either a run ID or --label")
			}

			loaded, _, err := setup(cmd)
			if err != nil {
				return err
			}
			index, err := openStore(loaded)
			if err != nil {
				return err
			}
			defer index.Close()

			var records []store.Record
			if label != "" {
				records, err = index.PlotsByLabel(cmd.Context(), label)
			} else {
				if _, err := index.Run(cmd.Context(), args[0]); err != nil {
					return err
				}
				records, err = index.Plots(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			extracted := make([]plots.ExtractedPlot, 0, len(records))
			for _, record := range records {
				extracted = append(extracted, record.Plot)
			}
			if asJSON {
				output, err := plots.FormatPlotsJSON(extracted)
				if err != nil {
					return err
				}
				fmt.Println(output)
				return nil
			}
			fmt.Print(plots.FormatPlotTable(extracted))
			return nil
		},
	}

	cmd.Flags().String("label", "", "List plots with this label across all runs")
	cmd.Flags().Bool("json", false, "Print plots as JSON")

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(configInitCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			path := config.DefaultFile
			if len(args) > 0 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Write(config.Default(), path); err != nil {
				return err
			}
			fmt.Printf("Wrote default configuration to %s\n", path)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "Overwrite an existing file")

	return cmd
}

func displayOrDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func truncateString(inputStr string, maxLength int) string {
	if len(inputStr) <= maxLength {
		return inputStr
	}
	return inputStr[:maxLength-3] + "..."
}
