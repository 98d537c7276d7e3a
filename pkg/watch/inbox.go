package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/fsnotify.v1"
)

const (
	DefaultInbox           = "inbox"
	DefaultOutputDirectory = "plots"
	DefaultSettleDelay     = 2 * time.Second

	// ManifestFile is the manifest name used when no path is configured.
	ManifestFile = ".plotextractor-manifest.json"
)

// archiveSuffixes are matched case-insensitively, longest first.
var archiveSuffixes = []string{".tar.bz2", ".tar.gz", ".tgz", ".tar", ".zip"}

// Config holds the inbox settings.
type Config struct {
	// Inbox is the directory archives are dropped into.
	Inbox string `yaml:"inbox" json:"inbox"`

	// OutputDirectory receives one subdirectory per processed archive.
	OutputDirectory string `yaml:"output_directory" json:"output_directory"`

	// ManifestPath defaults to ManifestFile inside the inbox.
	ManifestPath string `yaml:"manifest_path,omitempty" json:"manifest_path,omitempty"`

	// SettleDelay is how long an archive must go without writes before it
	// is processed.
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay"`
}

// DefaultConfig returns the default inbox settings.
func DefaultConfig() Config {
	return Config{
		Inbox:           DefaultInbox,
		OutputDirectory: DefaultOutputDirectory,
		SettleDelay:     DefaultSettleDelay,
	}
}

// Handler processes one archive, unpacking it into outputDirectory, and
// returns the number of plots found.
type Handler func(ctx context.Context, archivePath, outputDirectory string) (int, error)

// Inbox watches a directory and hands every new or changed archive to a
// Handler.
type Inbox struct {
	config       Config
	handler      Handler
	logger       *slog.Logger
	manifestPath string

	mu       sync.Mutex
	manifest *Manifest
}

// NewInbox creates an Inbox and loads its manifest. A nil logger uses
// slog.Default().
func NewInbox(config Config, handler Handler, logger *slog.Logger) (*Inbox, error) {
	if config.Inbox == "" {
		return nil, fmt.Errorf("no inbox directory configured")
	}
	if config.OutputDirectory == "" {
		config.OutputDirectory = DefaultOutputDirectory
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = DefaultSettleDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	manifestPath := config.ManifestPath
	if manifestPath == "" {
		manifestPath = filepath.Join(config.Inbox, ManifestFile)
	}
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	return &Inbox{
		config:       config,
		handler:      handler,
		logger:       logger,
		manifestPath: manifestPath,
		manifest:     manifest,
	}, nil
}

// IsArchive reports whether name looks like a supported archive.
func IsArchive(name string) bool {
	return archiveStem(name) != ""
}

// archiveStem returns the base name without its archive suffix, or "" when
// name is hidden or not an archive.
func archiveStem(name string) string {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return ""
	}
	lower := strings.ToLower(base)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) && len(base) > len(suffix) {
			return base[:len(base)-len(suffix)]
		}
	}
	return ""
}

// ScanExisting processes every archive already in the inbox, in name order.
func (inbox *Inbox) ScanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(inbox.config.Inbox)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && IsArchive(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := inbox.Process(ctx, filepath.Join(inbox.config.Inbox, name)); err != nil {
			inbox.logger.Warn("failed to process inbox archive", "archive", name, "error", err)
		}
	}
	return nil
}

// Run processes the archives already present, then watches the inbox until
// ctx is done.
func (inbox *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(inbox.config.Inbox, 0755); err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(inbox.config.Inbox); err != nil {
		return fmt.Errorf("failed to watch %s: %w", inbox.config.Inbox, err)
	}
	if err := inbox.ScanExisting(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	inbox.logger.Info("watching inbox", "inbox", inbox.config.Inbox)

	ticker := time.NewTicker(max(inbox.config.SettleDelay/2, 10*time.Millisecond))
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsArchive(event.Name) {
				continue
			}
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create,
				event.Op&fsnotify.Write == fsnotify.Write:
				pending[event.Name] = time.Now()
			case event.Op&fsnotify.Remove == fsnotify.Remove,
				event.Op&fsnotify.Rename == fsnotify.Rename:
				delete(pending, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			inbox.logger.Warn("inbox watcher error", "error", err)

		case now := <-ticker.C:
			for path, lastEvent := range pending {
				if now.Sub(lastEvent) < inbox.config.SettleDelay {
					continue
				}
				delete(pending, path)
				if _, err := inbox.Process(ctx, path); err != nil {
					inbox.logger.Warn("failed to process inbox archive", "archive", path, "error", err)
				}
			}
		}
	}
}

// Process hands path to the handler unless the manifest shows it was
// already handled in its current form. It returns the new manifest entry,
// or nil when the archive was skipped. A handler failure is recorded in
// the entry, not returned.
func (inbox *Inbox) Process(ctx context.Context, path string) (*Entry, error) {
	size, hash, err := fingerprint(path)
	if err != nil {
		return nil, err
	}

	inbox.mu.Lock()
	unchanged := inbox.manifest.Unchanged(path, size, hash)
	inbox.mu.Unlock()
	if unchanged {
		inbox.logger.Debug("skipping unchanged archive", "archive", path)
		return nil, nil
	}

	outputDirectory := filepath.Join(inbox.config.OutputDirectory, archiveStem(path))
	entry := &Entry{Path: path, SizeBytes: size, SHA256: hash, Status: StatusProcessed}
	plotCount, handlerErr := inbox.handler(ctx, path, outputDirectory)
	if handlerErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	entry.ProcessedAt = time.Now()
	if handlerErr != nil {
		entry.Status = StatusFailed
		entry.Error = handlerErr.Error()
		inbox.logger.Warn("archive processing failed", "archive", path, "error", handlerErr)
	} else {
		entry.Plots = plotCount
		inbox.logger.Info("archive processed", "archive", path, "plots", plotCount)
	}

	inbox.mu.Lock()
	defer inbox.mu.Unlock()
	inbox.manifest.Record(entry)
	if err := inbox.manifest.Save(inbox.manifestPath); err != nil {
		return entry, err
	}
	return entry, nil
}

// Entries returns a copy of the manifest entries sorted by path.
func (inbox *Inbox) Entries() []Entry {
	inbox.mu.Lock()
	defer inbox.mu.Unlock()

	entries := make([]Entry, 0, len(inbox.manifest.Archives))
	for _, entry := range inbox.manifest.Archives {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(left, right int) bool {
		return entries[left].Path < entries[right].Path
	})
	return entries
}
