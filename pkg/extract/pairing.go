package extract

const (
	captionSearchBack    = 25
	captionSearchForward = 5
)

// Assemble pairs the accumulated images and captions of one figure into
// records. lineIndex is where the figure was flushed; when the figure has
// images but no caption, the nearest untagged brace group within 25 lines
// before it, or else 5 lines after it, is taken as the caption.
func Assemble(images, captions Accumulator, label string, lineIndex int, lines []string) []FigureRecord {
	var records []FigureRecord
	emit := func(image, caption string) {
		records = append(records, FigureRecord{Image: image, Caption: caption, Label: label})
	}

	switch {
	case images.IsEmpty() && captions.IsEmpty():
		return nil

	case images.IsEmpty():
		emit("", noImagePrefix+captions.joined())

	case captions.IsEmpty():
		caption := recoverCaption(lines, lineIndex)
		if caption == "" {
			caption = NoCaptionFound
		}
		if !images.IsGrouped() {
			emit(images.Main(), caption)
			break
		}
		if images.Main() != "" {
			emit(images.Main(), caption)
		}
		for _, image := range images.Subs() {
			emit(image, caption)
		}

	case images.IsGrouped() && captions.IsGrouped():
		if images.Main() != "" && captions.Main() != "" {
			emit(images.Main(), captions.Main())
		}
		subCaptions := captions.Subs()
		for index, image := range images.Subs() {
			subCaption := CaptionNotExtracted
			if index < len(subCaptions) {
				subCaption = subCaptions[index]
			}
			emit(image, Grouped(captions.Main(), subCaption).joined())
		}

	case images.IsGrouped():
		if images.Main() != "" {
			emit(images.Main(), captions.Main())
		}
		for _, image := range images.Subs() {
			emit(image, captions.Main())
		}

	case captions.IsGrouped():
		emit(images.Main(), captions.joined())

	default:
		emit(images.Main(), captions.Main())
	}

	return records
}

// recoverCaption looks for a brace group that does not belong to a
// command, first backwards from lineIndex and then forwards.
func recoverCaption(lines []string, lineIndex int) string {
	for offset := 0; offset < captionSearchBack; offset++ {
		if caption := untaggedCaption(lines, lineIndex-offset); caption != "" {
			return caption
		}
	}
	for offset := 0; offset < captionSearchForward; offset++ {
		if caption := untaggedCaption(lines, lineIndex+offset); caption != "" {
			return caption
		}
	}
	return ""
}

func untaggedCaption(lines []string, lineIndex int) string {
	if lineIndex < 0 || lineIndex >= len(lines) {
		return ""
	}
	column := untaggedBrace(lines[lineIndex])
	if column < 0 {
		return ""
	}
	return AssembleCaption(lines, FindBraces(lines, lineIndex, column, Curly))
}

// untaggedBrace returns the column of the first '{' not directly preceded
// by a word character, or -1.
func untaggedBrace(line string) int {
	for index := 0; index < len(line); index++ {
		if line[index] != '{' {
			continue
		}
		if index == 0 || !isWordByte(line[index-1]) {
			return index
		}
	}
	return -1
}

func isWordByte(character byte) bool {
	return character == '_' ||
		('0' <= character && character <= '9') ||
		('a' <= character && character <= 'z') ||
		('A' <= character && character <= 'Z') ||
		character >= 0x80
}
