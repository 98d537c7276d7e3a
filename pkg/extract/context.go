package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var texCommandPattern = regexp.MustCompile(`^.*\\(\w+)`)

type direction int

const (
	forward direction = iota
	backward
)

// ExtractContext returns the prose around every \ref{label} or \fig{label}
// in text, in order of appearance. Each entry reads
// "<before> \ref{label} <after>", where both sides are cut to the
// configured character window and then trimmed by words and sentences.
func ExtractContext(config Config, text, label string) []string {
	if label == "" {
		return nil
	}
	pattern := regexp.MustCompile(`\\(?:fig|ref)\{` + regexp.QuoteMeta(label) + `\}`)
	matches := pattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	runes := []rune(text)
	contexts := make([]string, 0, len(matches))
	byteOffset, runeOffset := 0, 0
	for _, match := range matches {
		runeOffset += utf8.RuneCountInString(text[byteOffset:match[0]])
		start := runeOffset
		end := start + utf8.RuneCountInString(text[match[0]:match[1]])
		byteOffset = match[0]

		before := string(runes[max(0, start-config.ContextExtractLimit):start])
		after := string(runes[end:min(len(runes), end+config.ContextExtractLimit)])

		contexts = append(contexts, trimContext(config, before, backward)+
			` \ref{`+label+`} `+
			trimContext(config, after, forward))
	}
	return contexts
}

// trimContext keeps at most the configured number of words and sentences of
// text, read away from the reference. A disallowed command ends the window;
// reading backwards, the brace group it sits in is dropped as well.
func trimContext(config Config, text string, reading direction) string {
	words := strings.Fields(text)
	if reading == backward {
		reverse(words)
	}

	kept := make([]string, 0, config.ContextWordLimit)
	for _, word := range words {
		if len(kept) >= config.ContextWordLimit {
			break
		}
		if match := texCommandPattern.FindStringSubmatch(word); match != nil && config.disallowed(match[1]) {
			if reading == backward {
				for len(kept) > 0 {
					last := kept[len(kept)-1]
					kept = kept[:len(kept)-1]
					if strings.Contains(last, "}") {
						break
					}
				}
			}
			break
		}
		kept = append(kept, word)
	}

	if reading == backward {
		reverse(kept)
	}
	sentences := splitSentences(strings.Join(kept, " "))
	if len(sentences) > config.ContextSentenceLimit {
		if reading == backward {
			sentences = sentences[len(sentences)-config.ContextSentenceLimit:]
		} else {
			sentences = sentences[:config.ContextSentenceLimit]
		}
	}
	return strings.Join(sentences, " ")
}

// splitSentences splits after '.', '?' or '!' when whitespace and an
// uppercase letter follow. The whitespace is dropped.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for index := 0; index < len(text); index++ {
		switch text[index] {
		case '.', '?', '!':
		default:
			continue
		}
		next := index + 1
		for next < len(text) && isSpace(text[next]) {
			next++
		}
		if next == index+1 || next >= len(text) {
			continue
		}
		if letter, _ := utf8.DecodeRuneInString(text[next:]); unicode.IsUpper(letter) {
			sentences = append(sentences, text[start:index+1])
			start = next
			index = next - 1
		}
	}
	return append(sentences, text[start:])
}

func isSpace(character byte) bool {
	switch character {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func reverse(words []string) {
	for left, right := 0, len(words)-1; left < right; left, right = left+1, right-1 {
		words[left], words[right] = words[right], words[left]
	}
}
