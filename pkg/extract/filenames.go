package extract

import (
	"regexp"
	"strings"
)

// FilenameOptions tunes the filename heuristics to the command being read.
type FilenameOptions struct {
	// TeX allows a trailing TeX extension, as in \input{chapter.tex}.
	TeX bool
	// EPS requires an EPS or PS extension, as on \epsfig lines.
	EPS bool
	// Commas accepts commas inside filenames.
	Commas bool
}

// FilenameResult lists candidate filenames in discovery order. A result
// with no names means no heuristic recognized a filename on the line.
type FilenameResult struct {
	Names []string
}

// Matched reports whether at least one candidate was found.
func (result FilenameResult) Matched() bool { return len(result.Names) > 0 }

type filenameMatcher struct {
	afterEquals    *regexp.Regexp
	fileAssignment *regexp.Regexp
	delimited      *regexp.Regexp
	wholeLine      *regexp.Regexp
	lineLeading    *regexp.Regexp
	lineTrailing   *regexp.Regexp
}

var filenameMatchers = map[FilenameOptions]*filenameMatcher{}

func init() {
	for _, tex := range []bool{false, true} {
		for _, eps := range []bool{false, true} {
			for _, commas := range []bool{false, true} {
				options := FilenameOptions{TeX: tex, EPS: eps, Commas: commas}
				filenameMatchers[options] = newFilenameMatcher(options)
			}
		}
	}
}

func newFilenameMatcher(options FilenameOptions) *filenameMatcher {
	characters := `A-Za-z0-9\-=+/\\_.%#`
	if options.Commas {
		characters += ","
	}
	valid := `\s*[` + characters + `]+`
	if options.EPS {
		valid += `\.e*ps[texfi2]*`
	}
	if options.TeX {
		valid += `[.latex]*`
	}

	return &filenameMatcher{
		afterEquals:    regexp.MustCompile(`=` + valid + `[ ,]`),
		fileAssignment: regexp.MustCompile(`(?:[ps]*file=|figure=)` + valid + `[,\]} ]*`),
		delimited:      regexp.MustCompile(`["'{\[]` + valid + `[}\],"']`),
		wholeLine:      regexp.MustCompile(`^` + valid + `$`),
		lineLeading:    regexp.MustCompile(`^` + valid + `[,} $]`),
		lineTrailing:   regexp.MustCompile(`\s*` + valid + `\s*$`),
	}
}

// FindFilenames pulls candidate filenames out of a raw TeX line. The
// extractors run in a fixed order: values after '=', file= and figure=
// assignments, tokens between quotes or brackets, a line that is a bare
// filename, a line-leading filename and a line-trailing filename.
// Candidates holding spaces or commas are then split and the pieces added.
func FindFilenames(line string, options FilenameOptions) FilenameResult {
	matcher := filenameMatchers[options]

	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	for _, match := range matcher.afterEquals.FindAllString(line, -1) {
		add(strings.TrimSpace(match[1 : len(match)-1]))
	}
	for _, match := range matcher.fileAssignment.FindAllString(line, -1) {
		value := match[strings.IndexByte(match, '=')+1:]
		add(strings.TrimRight(strings.TrimSpace(value), ",]} "))
	}
	for _, match := range matcher.delimited.FindAllString(line, -1) {
		add(strings.TrimSpace(match[1 : len(match)-1]))
	}
	for _, match := range matcher.wholeLine.FindAllString(line, -1) {
		add(strings.TrimSpace(match))
	}
	for _, match := range matcher.lineLeading.FindAllString(line, -1) {
		add(strings.TrimSpace(match[:len(match)-1]))
	}
	for _, match := range matcher.lineTrailing.FindAllString(line, -1) {
		add(strings.TrimSpace(match))
	}

	for index := 0; index < len(names); index++ {
		name := names[index]
		var pieces []string
		switch {
		case strings.Contains(name, " "):
			pieces = strings.Split(name, " ")
		case strings.Contains(name, ","):
			pieces = strings.Split(name, ",")
		}
		for _, piece := range pieces {
			add(strings.TrimSpace(piece))
		}
	}

	return FilenameResult{Names: names}
}
