package extract

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const (
	documentHead = `\begin{document}`
	documentTail = `\end{document}`
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadText reads a TeX file as text. Bytes that are not valid UTF-8 are
// decoded as Latin-1 instead, which never fails.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return decodeText(data)
}

func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode as latin-1: %w", err)
	}
	return string(decoded), nil
}

// splitLines splits text on any line ending, keeping the endings so that
// joining the result gives back the normalized text.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.SplitAfter(text, "\n")
}

// SourceLines turns raw document lines into the scanner's view: comments
// removed, surrounding whitespace trimmed and, for the primary document,
// everything before \begin{document} blanked. A primary document without
// \begin{document} is blanked entirely.
func SourceLines(rawLines []string, inclusion Inclusion) []string {
	lines := make([]string, len(rawLines))
	inPreamble := inclusion == Primary
	for index, raw := range rawLines {
		if inPreamble {
			if !strings.Contains(raw, documentHead) {
				continue
			}
			inPreamble = false
		}
		lines[index] = strings.TrimSpace(stripComment(raw))
	}
	return lines
}

// stripComment cuts a line at the first % that is not escaped as \%.
func stripComment(line string) string {
	for index := 0; index < len(line); index++ {
		if line[index] == '%' && (index == 0 || line[index-1] != '\\') {
			return line[:index]
		}
	}
	return line
}
