package extract

import "strings"

const labelHead = `\label{`

// AssembleCaption rebuilds the caption held by span as a single line. One
// embedded \label{...} is removed and a redundant outer brace pair is
// dropped once.
func AssembleCaption(lines []string, span Span) string {
	if !span.Found() {
		return ""
	}

	var caption string
	if span.OpenLine == span.CloseLine {
		caption = lines[span.OpenLine][span.OpenCol+1 : span.CloseCol]
	} else {
		parts := []string{lines[span.OpenLine][span.OpenCol+1:]}
		parts = append(parts, lines[span.OpenLine+1:span.CloseLine]...)
		parts = append(parts, lines[span.CloseLine][:span.CloseCol])
		caption = strings.Join(parts, " ")
		caption = strings.ReplaceAll(caption, "\n", " ")
		caption = strings.ReplaceAll(caption, "  ", " ")
	}

	caption = removeLabel(caption)
	caption = strings.TrimSpace(caption)
	if len(caption) > 1 && caption[0] == '{' && caption[len(caption)-1] == '}' {
		caption = caption[1 : len(caption)-1]
	}
	return caption
}

func removeLabel(caption string) string {
	labelBegin := strings.Index(caption, labelHead)
	if labelBegin < 0 {
		return caption
	}
	labelSpan := FindBraces([]string{caption}, 0, labelBegin, Curly)
	if !labelSpan.Found() {
		return caption[:labelBegin] + caption[labelBegin+len(labelHead):]
	}
	before, after := caption[:labelBegin], caption[labelSpan.CloseCol+1:]
	if strings.HasSuffix(before, " ") && strings.HasPrefix(after, " ") {
		after = after[1:]
	}
	return before + after
}
