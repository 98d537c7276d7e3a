package extract

// Default limits used when trimming the prose around a figure reference.
const (
	DefaultContextWordLimit     = 75
	DefaultContextSentenceLimit = 2
	DefaultContextExtractLimit  = 750
)

// Config holds the tunables of a scan. It is passed by value and never
// mutated once a Scanner holds it.
type Config struct {
	// ContextWordLimit caps the words kept on each side of a reference.
	ContextWordLimit int `yaml:"context_word_limit" json:"context_word_limit"`

	// ContextSentenceLimit caps the sentences kept on each side of a reference.
	ContextSentenceLimit int `yaml:"context_sentence_limit" json:"context_sentence_limit"`

	// ContextExtractLimit is the character window read before and after a reference.
	ContextExtractLimit int `yaml:"context_extract_limit" json:"context_extract_limit"`

	// DisallowedTeX lists command names that end a context window.
	DisallowedTeX []string `yaml:"disallowed_tex" json:"disallowed_tex"`

	// AllowedImageTypes lists raw image extensions accepted before conversion.
	AllowedImageTypes []string `yaml:"allowed_image_types" json:"allowed_image_types"`
}

// DefaultConfig returns the configuration used by the command line tools.
func DefaultConfig() Config {
	return Config{
		ContextWordLimit:     DefaultContextWordLimit,
		ContextSentenceLimit: DefaultContextSentenceLimit,
		ContextExtractLimit:  DefaultContextExtractLimit,
		DisallowedTeX: []string{
			"begin", "end", "section", "includegraphics", "caption",
			"acknowledgements",
		},
		AllowedImageTypes: []string{"eps", "png", "ps", "jpg", "pdf"},
	}
}

func (config Config) disallowed(command string) bool {
	for _, name := range config.DisallowedTeX {
		if name == command {
			return true
		}
	}
	return false
}
