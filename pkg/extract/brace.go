package extract

import "strings"

// Bracket selects the pair of characters FindBraces matches.
type Bracket int

const (
	Curly Bracket = iota
	Square
	Paren
)

func (bracket Bracket) chars() (open, close byte, ok bool) {
	switch bracket {
	case Curly:
		return '{', '}', true
	case Square:
		return '[', ']', true
	case Paren:
		return '(', ')', true
	default:
		return 0, 0, false
	}
}

// Span locates a matched bracket pair. Columns are byte offsets of the
// opening and closing characters. A zero-length span, opening and closing
// at the same position, means no pair was found.
type Span struct {
	OpenLine  int
	OpenCol   int
	CloseLine int
	CloseCol  int
}

// Found reports whether the span denotes a real bracket pair.
func (span Span) Found() bool {
	return span.OpenLine != span.CloseLine || span.OpenCol != span.CloseCol
}

// Text returns what lies strictly between the brackets. Lines crossed by
// the span are joined without separators.
func (span Span) Text(lines []string) string {
	if !span.Found() {
		return ""
	}
	if span.OpenLine == span.CloseLine {
		return lines[span.OpenLine][span.OpenCol+1 : span.CloseCol]
	}
	var builder strings.Builder
	builder.WriteString(lines[span.OpenLine][span.OpenCol+1:])
	for index := span.OpenLine + 1; index < span.CloseLine; index++ {
		builder.WriteString(lines[index])
	}
	builder.WriteString(lines[span.CloseLine][:span.CloseCol])
	return builder.String()
}

// FindBraces finds the first opening bracket at or after column on line
// lineIndex, looking on the following lines when the starting line has
// none, and returns the span up to its matching close. When no opening
// bracket exists the result is a zero-length span at the start position;
// when the bracket never closes it is a zero-length span at the opening
// bracket.
func FindBraces(lines []string, lineIndex, column int, bracket Bracket) Span {
	notFound := Span{OpenLine: lineIndex, CloseLine: lineIndex}
	open, close, ok := bracket.chars()
	if !ok || lineIndex < 0 || lineIndex >= len(lines) {
		return notFound
	}
	if column < 0 {
		column = 0
	}

	openLine, openCol := -1, -1
	for index := lineIndex; index < len(lines) && openLine < 0; index++ {
		start := 0
		if index == lineIndex {
			start = column
		}
		if start > len(lines[index]) {
			continue
		}
		if offset := strings.IndexByte(lines[index][start:], open); offset >= 0 {
			openLine, openCol = index, start+offset
		}
	}
	if openLine < 0 {
		return notFound
	}

	depth := 0
	for index := openLine; index < len(lines); index++ {
		line := lines[index]
		start := 0
		if index == openLine {
			start = openCol
		}
		for position := start; position < len(line); position++ {
			switch line[position] {
			case open:
				depth++
			case close:
				depth--
				if depth == 0 {
					return Span{OpenLine: openLine, OpenCol: openCol, CloseLine: index, CloseCol: position}
				}
			}
		}
	}
	return Span{OpenLine: openLine, OpenCol: openCol, CloseLine: openLine, CloseCol: openCol}
}
