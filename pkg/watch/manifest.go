package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const manifestVersion = "1.0.0"

const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// Manifest records which inbox archives have been handled, so a restarted
// watcher does not process them again.
type Manifest struct {
	Version   string            `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Archives  map[string]*Entry `json:"archives"`
}

// Entry is the outcome of handling one archive.
type Entry struct {
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	SHA256      string    `json:"sha256"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Plots       int       `json:"plots"`
	ProcessedAt time.Time `json:"processed_at"`
}

// NewManifest creates an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		Version:   manifestVersion,
		UpdatedAt: time.Now(),
		Archives:  make(map[string]*Entry),
	}
}

// LoadManifest reads a manifest from disk. A missing file yields an empty
// manifest.
func LoadManifest(manifestPath string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	manifest := &Manifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.Archives == nil {
		manifest.Archives = make(map[string]*Entry)
	}
	return manifest, nil
}

// Save writes the manifest to disk.
func (manifest *Manifest) Save(manifestPath string) error {
	manifest.UpdatedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(manifestPath), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	temporaryPath := manifestPath + ".tmp"
	if err := os.WriteFile(temporaryPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(temporaryPath, manifestPath); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// Record stores entry under its path.
func (manifest *Manifest) Record(entry *Entry) {
	manifest.Archives[entry.Path] = entry
}

// Lookup returns the entry for path, or nil.
func (manifest *Manifest) Lookup(path string) *Entry {
	return manifest.Archives[path]
}

// Unchanged reports whether path was handled before with the same size and
// content hash. Failed archives count as handled until they change.
func (manifest *Manifest) Unchanged(path string, sizeBytes int64, sha256Hex string) bool {
	entry := manifest.Archives[path]
	return entry != nil && entry.SizeBytes == sizeBytes && entry.SHA256 == sha256Hex
}

// fingerprint returns the size and SHA-256 of a file.
func fingerprint(path string) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return 0, "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return size, hex.EncodeToString(hash.Sum(nil)), nil
}
