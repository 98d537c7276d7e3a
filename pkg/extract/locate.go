package extract

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

var (
	imageAssignmentPattern = regexp.MustCompile(`figure=|file=`)
	graphicsWrapperPattern = regexp.MustCompile(`\\includegraphics\{(.+)\}`)
	leadingCommandPattern  = regexp.MustCompile(`^\\\w+ `)
)

// imageDirectories are conventional folders authors keep figures in.
var imageDirectories = []string{"eps", "fig", "figs", "figures", "images"}

// referenceSeparators split references that over-captured neighbouring text.
var referenceSeparators = []string{" ", ",", "="}

// ConvertedName returns the PNG path an image is converted to: the
// extension is replaced by .png, or .png is appended when there is none.
func ConvertedName(path string) string {
	extension := filepath.Ext(path)
	if strings.EqualFold(extension, ".png") {
		return path
	}
	return strings.TrimSuffix(path, extension) + ".png"
}

// Resolver maps image references found in TeX onto converted files below
// an extraction directory.
type Resolver struct {
	sourceDirectory string
	images          []string

	listOnce sync.Once
}

// NewResolver returns a resolver for files under sourceDirectory. images
// are the converted image paths; when nil the directory tree is listed.
func NewResolver(sourceDirectory string, images []string) *Resolver {
	return &Resolver{sourceDirectory: sourceDirectory, images: images}
}

// SourceDirectory returns the extraction directory the resolver searches.
func (resolver *Resolver) SourceDirectory() string { return resolver.sourceDirectory }

// Locate returns the path of the converted image that reference names.
func (resolver *Resolver) Locate(reference string) (string, bool) {
	return resolver.locate(reference, false)
}

func (resolver *Resolver) locate(reference string, retried bool) (string, bool) {
	image := strings.TrimSpace(reference)
	if assignment := imageAssignmentPattern.FindString(image); assignment != "" {
		image = strings.ReplaceAll(image, assignment, "")
	}
	if match := graphicsWrapperPattern.FindStringSubmatch(image); match != nil {
		image = match[1]
	}
	image = strings.TrimSpace(image)
	image = strings.TrimPrefix(image, "./")
	if location := leadingCommandPattern.FindStringIndex(image); location != nil {
		image = image[location[1]:]
	}
	image = strings.TrimPrefix(image, "=")
	if len(image) <= 1 {
		return "", false
	}

	converted := ConvertedName(image)
	if path, ok := resolver.search(converted); ok {
		return path, true
	}

	if !retried {
		for _, separator := range referenceSeparators {
			if !strings.Contains(image, separator) {
				continue
			}
			for _, piece := range strings.Split(image, separator) {
				if path, ok := resolver.locate(piece, true); ok {
					return path, true
				}
			}
		}
	}
	return "", false
}

func (resolver *Resolver) search(converted string) (string, bool) {
	for _, image := range resolver.imageList() {
		relative, err := filepath.Rel(resolver.sourceDirectory, image)
		if err == nil && sameName(relative, converted) {
			return image, true
		}
	}

	for _, directory := range imageDirectories {
		if path, ok := findEntry(filepath.Join(resolver.sourceDirectory, directory), converted); ok {
			return path, true
		}
	}

	base := filepath.Base(converted)
	if path, ok := findEntry(resolver.sourceDirectory, base); ok {
		return path, true
	}
	entries, _ := os.ReadDir(resolver.sourceDirectory)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if path, ok := findEntry(filepath.Join(resolver.sourceDirectory, entry.Name()), base); ok {
			return path, true
		}
	}

	parent := filepath.Dir(resolver.sourceDirectory)
	for _, directory := range []string{parent, filepath.Dir(parent)} {
		if path, ok := findEntry(directory, base); ok {
			return path, true
		}
	}
	return "", false
}

func (resolver *Resolver) imageList() []string {
	resolver.listOnce.Do(func() {
		if resolver.images != nil {
			return
		}
		resolver.images = []string{}
		filepath.WalkDir(resolver.sourceDirectory, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !entry.IsDir() {
				resolver.images = append(resolver.images, path)
			}
			return nil
		})
	})
	return resolver.images
}

// findEntry looks for a regular file called name directly in directory.
func findEntry(directory, name string) (string, bool) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if !entry.IsDir() && sameName(entry.Name(), name) {
			return filepath.Join(directory, entry.Name()), true
		}
	}
	return "", false
}

// sameName compares file names after Unicode normalization, so that names
// stored decomposed on disk still match their composed spelling in TeX.
func sameName(left, right string) bool {
	return norm.NFC.String(filepath.ToSlash(left)) == norm.NFC.String(filepath.ToSlash(right))
}

// LocateTeX resolves the target of \input or \include relative to the file
// containing it: the same directory, the referenced subfolder, then one and
// two directories up. A second attempt appends .tex to the name.
func LocateTeX(reference, currentFile string) (string, bool) {
	name := strings.TrimSpace(reference)
	name = strings.TrimPrefix(name, "input")
	if location := leadingCommandPattern.FindStringIndex(name); location != nil {
		name = name[location[1]:]
	}
	name = strings.TrimPrefix(strings.TrimSpace(name), "./")
	if name == "" {
		return "", false
	}

	for _, candidate := range []string{name, name + ".tex"} {
		if path, ok := locateTeXFile(candidate, filepath.Dir(currentFile)); ok {
			return path, true
		}
	}
	return "", false
}

func locateTeXFile(name, currentDirectory string) (string, bool) {
	folder, file := filepath.Split(filepath.FromSlash(name))
	parent := filepath.Dir(currentDirectory)
	candidates := []string{
		filepath.Join(currentDirectory, file),
		filepath.Join(currentDirectory, folder, file),
		filepath.Join(parent, folder, file),
		filepath.Join(filepath.Dir(parent), folder, file),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}
