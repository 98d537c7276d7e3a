package plots

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/inspirehep/plotextractor/pkg/convert"
	"github.com/inspirehep/plotextractor/pkg/extract"
)

// PrepareImageData resolves the image of every record and merges records
// that point at the same file. Records whose image cannot be found are
// dropped. mapping may be nil, in which case outputDirectory is listed and
// every image is its own original.
func PrepareImageData(records []extract.FigureRecord, outputDirectory string, mapping *convert.Mapping) []ExtractedPlot {
	var converted []string
	if mapping != nil {
		converted = mapping.Converted()
	}
	resolver := extract.NewResolver(outputDirectory, converted)

	var plots []ExtractedPlot
	positions := make(map[string]int)
	for _, record := range records {
		if record.Image == "" {
			continue
		}
		location, ok := resolver.Locate(record.Image)
		if !ok || len(location) < 3 {
			continue
		}
		if _, err := os.Stat(location); err != nil {
			continue
		}
		location = filepath.Clean(location)

		if position, exists := positions[location]; exists {
			if !slices.Contains(plots[position].Captions, record.Caption) {
				plots[position].Captions = append(plots[position].Captions, record.Caption)
			}
			continue
		}

		original := location
		if mapping != nil {
			if mapped, ok := mapping.Original(location); ok {
				original = mapped
			}
		}
		positions[location] = len(plots)
		plots = append(plots, ExtractedPlot{
			URL:         location,
			OriginalURL: original,
			Captions:    []string{record.Caption},
			Label:       record.Label,
			Name:        NameFromPath(location, outputDirectory),
		})
	}
	return plots
}

// NameFromPath derives a plot name from its path below root: the
// extension is dropped, remaining dots and path separators become
// underscores, and ';' and ':' are removed.
func NameFromPath(fullPath, root string) string {
	relative, err := filepath.Rel(root, fullPath)
	if err != nil {
		relative = filepath.Base(fullPath)
	}
	parts := strings.Split(filepath.ToSlash(relative), ".")
	name := strings.Join(parts[:len(parts)-1], "_")
	name = strings.ReplaceAll(name, "/", "_")
	return strings.NewReplacer(";", "", ":", "").Replace(name)
}
