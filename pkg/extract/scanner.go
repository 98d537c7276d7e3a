package extract

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	figureHead      = `\begin{figure`
	wrapFigureHead  = `\begin{wrapfigure`
	figureTail      = `\end{figure`
	wrapFigureTail  = `\end{wrapfigure`
	subfloatHead    = `\subfloat`
	subfigureHead   = `\subfigure`
	graphicsHead    = `\includegraphics`
	includeHead     = `\include`
	includeOnlyHead = `\includeonly`
	inputHead       = `\input`
	epsfigHead      = `\epsfig`
	captionHead     = `\caption`
	captionSetup    = `\captionsetup`
	figCaptionHead  = `\figcaption`
	labelCommand    = `\label`
	epsTail         = ".eps"
	psTail          = ".ps"
	rotateOption    = "rotate="
	angleOption     = "angle="
)

var rotationPattern = regexp.MustCompile(`(?:angle|rotate)=\s*(-?\d+)`)

// Rotator rotates an image file in place by degrees clockwise.
type Rotator interface {
	Rotate(path string, degrees int) error
}

// Scanner extracts figure records from TeX documents.
type Scanner struct {
	config  Config
	rotator Rotator
	logger  *slog.Logger
}

// NewScanner creates a Scanner. rotator may be nil, in which case rotation
// commands are ignored; a nil logger uses slog.Default().
func NewScanner(config Config, rotator Rotator, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{config: config, rotator: rotator, logger: logger}
}

// Config returns the configuration the scanner was built with.
func (scanner *Scanner) Config() Config { return scanner.config }

// ExtractCaptions scans texFile and returns its figures in the order they
// close. sourceDirectory is the extraction root and images the converted
// images in it; both are used to find the files rotation commands refer to.
// Files pulled in by \input and \include are scanned in place, one level
// deep.
func (scanner *Scanner) ExtractCaptions(texFile, sourceDirectory string, images []string) ([]FigureRecord, error) {
	document := &scanDocument{
		scanner:  scanner,
		resolver: NewResolver(sourceDirectory, images),
		commas:   commasInFilenames(sourceDirectory),
	}
	return document.scan(texFile, Primary)
}

// scanDocument carries what the primary scan and its nested scans share.
type scanDocument struct {
	scanner  *Scanner
	resolver *Resolver
	commas   bool
}

func (document *scanDocument) scan(texFile string, inclusion Inclusion) ([]FigureRecord, error) {
	info, err := os.Stat(texFile)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", texFile, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", texFile)
	}

	text, err := ReadText(texFile)
	if err != nil {
		return nil, err
	}

	state := &scanState{
		document:  document,
		texFile:   texFile,
		inclusion: inclusion,
		lines:     SourceLines(splitLines(text), inclusion),
		images:    Single(""),
		captions:  Single(""),
		seen:      make(map[string]bool),

		claimedLine: -1,
	}
	state.run()
	return state.records, nil
}

// scanState is the mutable state of one document scan. Nested scans get
// their own state; only their records flow back to the caller.
type scanState struct {
	document  *scanDocument
	texFile   string
	inclusion Inclusion
	lines     []string

	images      Accumulator
	captions    Accumulator
	inFigure    bool
	activeLabel string
	seen        map[string]bool
	records     []FigureRecord

	// claimedLine is the line whose image the last subfloat took as its
	// sub image. The generic image folds skip it.
	claimedLine int
}

func (state *scanState) run() {
	for index := 0; index < len(state.lines); index++ {
		line := state.lines[index]
		if line == "" {
			continue
		}
		if strings.Contains(line, documentTail) {
			state.inFigure = false
			state.flush(index)
			return
		}

		if isFigureHead(line) {
			state.inFigure = true
			state.flush(index)
		}

		if isSubfloat(line) {
			state.subfloat(index)
		}
		claimed := index == state.claimedLine

		if !claimed && isLegacyInclusion(line) {
			state.legacyInclusion(index)
		}
		if strings.Contains(line, rotateOption) || strings.Contains(line, angleOption) {
			state.rotate(index)
		}
		if !claimed && strings.Contains(line, graphicsHead) {
			column := strings.Index(line, graphicsHead)
			state.images.addImage(FindBraces(state.lines, index, column, Curly).Text(state.lines))
		}
		if strings.Contains(line, inputHead) || isInclude(line) {
			state.include(line)
		}
		if column := captionColumn(line); column >= 0 {
			caption := AssembleCaption(state.lines, FindBraces(state.lines, index, column, Curly))
			state.captions.addCaption(caption)
		}
		if state.inFigure {
			if column := strings.Index(line, labelCommand); column >= 0 {
				state.label(FindBraces(state.lines, index, column, Curly).Text(state.lines))
			}
		}
		if isFigureTail(line) {
			state.inFigure = false
			state.flush(index)
		}
	}
	state.flush(len(state.lines) - 1)
}

func (state *scanState) flush(lineIndex int) {
	state.records = append(state.records,
		Assemble(state.images, state.captions, state.activeLabel, lineIndex, state.lines)...)
	state.images = Single("")
	state.captions = Single("")
	state.activeLabel = ""
}

func (state *scanState) filenameOptions() FilenameOptions {
	return FilenameOptions{Commas: state.document.commas}
}

// legacyInclusion handles \epsfig and bare .eps/.ps references. Filenames
// on the next two lines are considered as well, unless those lines are
// read on their own visit.
func (state *scanState) legacyInclusion(index int) {
	line := state.lines[index]
	options := state.filenameOptions()
	options.EPS = strings.Contains(line, epsTail) || strings.Contains(line, psTail)

	results := []FilenameResult{FindFilenames(line, options)}
	for next := index + 1; next <= index+2 && next < len(state.lines); next++ {
		if isLegacyInclusion(state.lines[next]) || isSubfloat(state.lines[next]) {
			continue
		}
		results = append(results, FindFilenames(state.lines[next], state.filenameOptions()))
	}

	for _, result := range results {
		if !result.Matched() {
			if !state.images.IsEmpty() {
				state.images.promote()
			}
			continue
		}
		for _, name := range result.Names {
			state.images.addImage(name)
		}
	}
}

// rotate applies the angle= or rotate= option on the line to the first
// image, named on this, the next or the previous line, that can be rotated.
func (state *scanState) rotate(index int) {
	if state.document.scanner.rotator == nil {
		return
	}
	line := state.lines[index]
	match := rotationPattern.FindStringSubmatch(line)
	if match == nil {
		return
	}
	degrees, err := strconv.Atoi(match[1])
	if err != nil {
		return
	}

	candidates := []int{index, index + 1, index - 1}
	tried := make(map[string]bool)
	for _, candidate := range candidates {
		if candidate < 0 || candidate >= len(state.lines) {
			continue
		}
		for _, name := range FindFilenames(state.lines[candidate], state.filenameOptions()).Names {
			if tried[name] {
				continue
			}
			tried[name] = true
			path, ok := state.document.resolver.Locate(name)
			if !ok {
				continue
			}
			if err := state.document.scanner.rotator.Rotate(path, -degrees); err != nil {
				state.document.scanner.logger.Debug("rotation failed", "image", path, "degrees", degrees, "error", err)
				continue
			}
			return
		}
	}
	state.document.scanner.logger.Debug("no image to rotate", "file", state.texFile, "line", index+1)
}

// include expands \input and \include. Only the primary document expands
// inclusions, so nesting stops after one level.
func (state *scanState) include(line string) {
	options := state.filenameOptions()
	options.TeX = true
	for _, name := range FindFilenames(line, options).Names {
		texFile, ok := LocateTeX(name, state.texFile)
		if !ok {
			state.document.scanner.logger.Debug("unresolved inclusion", "file", state.texFile, "reference", name)
			continue
		}
		if state.inclusion != Primary {
			continue
		}
		records, err := state.document.scan(texFile, Nested)
		if err != nil {
			state.document.scanner.logger.Debug("failed to scan included file", "file", texFile, "error", err)
			continue
		}
		state.records = append(state.records, records...)
	}
}

// subfloat reads the bracketed sub caption and the image of a \subfloat
// or \subfigure. The image is looked for from the command onwards, up to
// the next subfloat or the line ending the figure; the line it was read from
// becomes the claimed line. A subfloat without an image gets an empty sub
// image so sub images and sub captions stay paired.
func (state *scanState) subfloat(index int) {
	line := state.lines[index]
	state.images.promote()
	state.captions.promote()

	column := strings.Index(line, subfloatHead)
	head := subfloatHead
	if column < 0 {
		column = strings.Index(line, subfigureHead)
		head = subfigureHead
	}

	subCaption := ""
	rest := line[column+len(head):]
	if trimmed := strings.TrimLeft(rest, " "); strings.HasPrefix(trimmed, "[") {
		bracket := column + len(head) + len(rest) - len(trimmed)
		subCaption = AssembleCaption(state.lines, FindBraces(state.lines, index, bracket, Square))
	}
	state.captions.subs = append(state.captions.subs, subCaption)

	for imageLine := index; imageLine < len(state.lines); imageLine++ {
		text, offset := state.lines[imageLine], 0
		if imageLine == index {
			text, offset = line[column+len(head):], column+len(head)
		} else if isSubfloat(text) || isFigureHead(text) {
			break
		}

		if graphics := strings.Index(text, graphicsHead); graphics >= 0 {
			span := FindBraces(state.lines, imageLine, offset+graphics, Curly)
			state.images.subs = append(state.images.subs, span.Text(state.lines))
			state.claimedLine = imageLine
			return
		}
		if isLegacyInclusion(text) {
			options := state.filenameOptions()
			options.EPS = strings.Contains(text, epsTail) || strings.Contains(text, psTail)
			if result := FindFilenames(text, options); result.Matched() {
				state.images.subs = append(state.images.subs, result.Names[0])
				state.claimedLine = imageLine
				return
			}
		}
		if isFigureTail(text) || strings.Contains(text, documentTail) {
			break
		}
	}
	state.images.subs = append(state.images.subs, "")
}

// label records a figure label. A label not seen before in the document
// becomes the active label; a repeated one never replaces it.
func (state *scanState) label(text string) {
	if !state.seen[text] {
		state.activeLabel = text
	}
	state.seen[text] = true
}

func isSubfloat(line string) bool {
	return strings.Contains(line, subfloatHead) || strings.Contains(line, subfigureHead)
}

func isFigureHead(line string) bool {
	return strings.Contains(line, figureHead) || strings.Contains(line, wrapFigureHead)
}

func isFigureTail(line string) bool {
	return strings.Contains(line, figureTail) || strings.Contains(line, wrapFigureTail)
}

// isLegacyInclusion reports whether line references an image through
// \epsfig or a bare .eps/.ps name rather than \includegraphics.
func isLegacyInclusion(line string) bool {
	if strings.Contains(line, graphicsHead) {
		return false
	}
	return strings.Contains(line, epsTail) || strings.Contains(line, psTail) || strings.Contains(line, epsfigHead)
}

func isInclude(line string) bool {
	return strings.HasPrefix(line, includeHead) &&
		!strings.HasPrefix(line, graphicsHead) &&
		!strings.HasPrefix(line, includeOnlyHead)
}

// captionColumn returns where a \caption or \figcaption command starts.
func captionColumn(line string) int {
	for _, head := range []string{captionHead, figCaptionHead} {
		offset := 0
		for {
			column := strings.Index(line[offset:], head)
			if column < 0 {
				break
			}
			column += offset
			if !strings.HasPrefix(line[column:], captionSetup) {
				return column
			}
			offset = column + len(head)
		}
	}
	return -1
}

// commasInFilenames reports whether any file below root has a comma in its
// name, in which case commas are treated as part of filenames.
func commasInFilenames(root string) bool {
	found := false
	filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if strings.Contains(entry.Name(), ",") {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}
