// Package archive unpacks submission archives.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidArchive is returned for files that are not a tar or zip archive.
var ErrInvalidArchive = errors.New("not a valid archive")

// Format identifies an archive container.
type Format string

const (
	FormatTar     Format = "tar"
	FormatTarGzip Format = "tar.gz"
	FormatTarBz2  Format = "tar.bz2"
	FormatZip     Format = "zip"
)

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
	zipMagic   = []byte("PK\x03\x04")
	ustarMagic = []byte("ustar")
)

// DetectFormat reads the first bytes of path and reports its container.
func DetectFormat(path string) (Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	header := make([]byte, 512)
	count, err := io.ReadFull(file, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	header = header[:count]

	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return FormatTarGzip, nil
	case bytes.HasPrefix(header, bzip2Magic):
		return FormatTarBz2, nil
	case bytes.HasPrefix(header, zipMagic):
		return FormatZip, nil
	case len(header) >= 262 && bytes.HasPrefix(header[257:], ustarMagic):
		return FormatTar, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrInvalidArchive)
}

// Extract unpacks the archive at path into targetDirectory and returns the
// extracted regular files. Entries that would land outside the target are
// skipped, and extracted files get the extraction time as their
// modification time.
func Extract(path string, targetDirectory string) ([]string, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(targetDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}

	if format == FormatZip {
		return extractZip(path, targetDirectory)
	}

	archiveFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer archiveFile.Close()

	var reader io.Reader = bufio.NewReader(archiveFile)
	switch format {
	case FormatTarGzip:
		gzipReader, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	case FormatTarBz2:
		reader = bzip2.NewReader(reader)
	}
	return extractTar(reader, targetDirectory)
}

func extractTar(reader io.Reader, targetDirectory string) ([]string, error) {
	tarReader := tar.NewReader(reader)
	extractionTime := time.Now()

	var extractedPaths []string
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(extractedPaths) == 0 {
				return nil, fmt.Errorf("tar read error: %v: %w", err, ErrInvalidArchive)
			}
			return extractedPaths, fmt.Errorf("tar read error: %w", err)
		}

		extractedPath, ok := targetPath(targetDirectory, header.Name)
		if !ok {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			os.MkdirAll(extractedPath, 0755)
		case tar.TypeReg:
			if err := writeFile(extractedPath, tarReader, extractionTime); err != nil {
				return extractedPaths, fmt.Errorf("failed to extract %s: %w", header.Name, err)
			}
			extractedPaths = append(extractedPaths, extractedPath)
		}
	}
	return extractedPaths, nil
}

func extractZip(path string, targetDirectory string) ([]string, error) {
	zipReader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP %s: %v: %w", path, err, ErrInvalidArchive)
	}
	defer zipReader.Close()

	extractionTime := time.Now()
	var extractedPaths []string
	for _, zipEntry := range zipReader.File {
		extractedPath, ok := targetPath(targetDirectory, zipEntry.Name)
		if !ok {
			continue
		}
		if zipEntry.FileInfo().IsDir() {
			os.MkdirAll(extractedPath, 0755)
			continue
		}

		entryReader, err := zipEntry.Open()
		if err != nil {
			return extractedPaths, fmt.Errorf("failed to open ZIP entry %s: %w", zipEntry.Name, err)
		}
		err = writeFile(extractedPath, entryReader, extractionTime)
		entryReader.Close()
		if err != nil {
			return extractedPaths, fmt.Errorf("failed to extract %s: %w", zipEntry.Name, err)
		}
		extractedPaths = append(extractedPaths, extractedPath)
	}
	return extractedPaths, nil
}

// targetPath joins an entry name onto the target directory, refusing names
// that escape it.
func targetPath(targetDirectory, name string) (string, bool) {
	name = strings.TrimPrefix(name, "./")
	if name == "" || name == "." {
		return "", false
	}
	extractedPath := filepath.Join(targetDirectory, name)
	cleanTarget := filepath.Clean(targetDirectory)
	if extractedPath != cleanTarget && !strings.HasPrefix(extractedPath, cleanTarget+string(os.PathSeparator)) {
		return "", false
	}
	return extractedPath, true
}

func writeFile(path string, content io.Reader, modified time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	outputFile, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(outputFile, content); err != nil {
		outputFile.Close()
		return err
	}
	if err := outputFile.Close(); err != nil {
		return err
	}
	return os.Chtimes(path, modified, modified)
}
