// Package extract finds figure images, captions and labels in TeX sources.
//
// The scanner walks a document line by line, tolerating the non-conforming
// markup common in submitted manuscripts, and emits one FigureRecord per
// image/caption pair it can assemble. Paths inside records are raw TeX
// references; Resolver maps them onto extracted files.
package extract

import "strings"

// Placeholder captions emitted when a figure's caption cannot be recovered.
const (
	NoCaptionFound      = "No caption found"
	CaptionNotExtracted = "Caption not extracted"
	noImagePrefix       = "noimg"
	captionSeparator    = " : "
)

// FigureRecord is a raw image reference with its caption and label, as
// found by the scanner.
type FigureRecord struct {
	Image   string `json:"image"`
	Caption string `json:"caption"`
	Label   string `json:"label"`
}

// Inclusion tells a scan whether it may expand \input and \include.
type Inclusion int

const (
	// Primary is the top-level document. It expands inclusions.
	Primary Inclusion = iota
	// Nested is a document reached through an inclusion. It never expands further.
	Nested
)

func (inclusion Inclusion) String() string {
	switch inclusion {
	case Primary:
		return "primary"
	case Nested:
		return "nested"
	default:
		return "unknown"
	}
}

type accumulatorKind int

const (
	kindSingle accumulatorKind = iota
	kindGrouped
)

// Accumulator collects image references or caption texts for the figure
// being scanned. It is either a single text or a main text with ordered
// sub entries, the latter used by subfigures and subfloats.
type Accumulator struct {
	kind accumulatorKind
	main string
	subs []string
}

// Single returns an accumulator holding one text.
func Single(text string) Accumulator {
	return Accumulator{kind: kindSingle, main: text}
}

// Grouped returns an accumulator with a main text and sub entries.
func Grouped(main string, subs ...string) Accumulator {
	return Accumulator{kind: kindGrouped, main: main, subs: append([]string{}, subs...)}
}

// IsGrouped reports whether the accumulator has the main/subs shape.
func (accumulator Accumulator) IsGrouped() bool { return accumulator.kind == kindGrouped }

// IsEmpty reports whether nothing was accumulated. A grouped accumulator is
// never empty, even with an empty main and no subs.
func (accumulator Accumulator) IsEmpty() bool {
	return accumulator.kind == kindSingle && accumulator.main == ""
}

// Main returns the single text, or the main text of a grouped accumulator.
func (accumulator Accumulator) Main() string { return accumulator.main }

// Subs returns the sub entries of a grouped accumulator.
func (accumulator Accumulator) Subs() []string { return accumulator.subs }

// promote turns a single accumulator into a grouped one whose main is the
// current text.
func (accumulator *Accumulator) promote() {
	if accumulator.kind == kindSingle {
		*accumulator = Grouped(accumulator.main)
	}
}

// addImage folds an image reference: the first fills the single slot, the
// second regroups both as subs under an empty main, later ones append.
func (accumulator *Accumulator) addImage(name string) {
	switch accumulator.kind {
	case kindGrouped:
		accumulator.subs = append(accumulator.subs, name)
	case kindSingle:
		if accumulator.main == "" {
			accumulator.main = name
			return
		}
		*accumulator = Grouped("", accumulator.main, name)
	}
}

// addCaption folds a caption. Repeating the single caption is a no-op. A
// grouped accumulator without a main caption takes the caption as main,
// otherwise it becomes another sub caption.
func (accumulator *Accumulator) addCaption(caption string) {
	switch accumulator.kind {
	case kindGrouped:
		if accumulator.main == "" {
			accumulator.main = caption
			return
		}
		accumulator.subs = append(accumulator.subs, caption)
	case kindSingle:
		switch accumulator.main {
		case "":
			accumulator.main = caption
		case caption:
		default:
			*accumulator = Grouped("", accumulator.main, caption)
		}
	}
}

// joined returns the main text followed by every sub entry, separated by
// " : ", skipping empty parts.
func (accumulator Accumulator) joined() string {
	parts := make([]string, 0, len(accumulator.subs)+1)
	if accumulator.main != "" {
		parts = append(parts, accumulator.main)
	}
	for _, sub := range accumulator.subs {
		if sub != "" {
			parts = append(parts, sub)
		}
	}
	return strings.Join(parts, captionSeparator)
}
