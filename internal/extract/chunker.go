package extract

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ppiankov/redline/internal/model"
)

// chunkNamespace seeds the deterministic chunk IDs.
var chunkNamespace = uuid.MustParse("6f1c1f0e-3d4b-5c8a-9e21-7a2f4c0d9b11")

// Config holds chunking configuration, in bytes
type Config struct {
	// TargetChunkSize is where the cut search window starts
	TargetChunkSize int `yaml:"target_chunk_size" mapstructure:"target_chunk_size"`

	// MaxChunkSize is the hard cut point; pages up to this size are one chunk
	MaxChunkSize int `yaml:"max_chunk_size" mapstructure:"max_chunk_size"`

	// MinChunkSize is the smallest trimmed span emitted on its own (smaller spans are merged)
	MinChunkSize int `yaml:"min_chunk_size" mapstructure:"min_chunk_size"`
}

// DefaultConfig returns the default chunking sizes
func DefaultConfig() Config {
	return Config{
		TargetChunkSize: 1000,
		MaxChunkSize:    1500,
		MinChunkSize:    100,
	}
}

// Validate checks if the configuration is consistent
func (c Config) Validate() error {
	if c.MinChunkSize <= 0 {
		return fmt.Errorf("min_chunk_size must be positive, got %d", c.MinChunkSize)
	}
	if c.TargetChunkSize <= 0 {
		return fmt.Errorf("target_chunk_size must be positive, got %d", c.TargetChunkSize)
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("max_chunk_size must be positive, got %d", c.MaxChunkSize)
	}
	if c.MinChunkSize >= c.TargetChunkSize {
		return fmt.Errorf("min_chunk_size (%d) must be less than target_chunk_size (%d)", c.MinChunkSize, c.TargetChunkSize)
	}
	if c.TargetChunkSize > c.MaxChunkSize {
		return fmt.Errorf("target_chunk_size (%d) must not exceed max_chunk_size (%d)", c.TargetChunkSize, c.MaxChunkSize)
	}
	return nil
}

// withDefaults replaces unusable values so extraction stays total over any config.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = def.MaxChunkSize
	}
	if c.TargetChunkSize <= 0 || c.TargetChunkSize > c.MaxChunkSize {
		c.TargetChunkSize = min(def.TargetChunkSize, c.MaxChunkSize)
	}
	if c.MinChunkSize < 0 {
		c.MinChunkSize = 0
	}
	if c.MinChunkSize >= c.TargetChunkSize {
		c.MinChunkSize = c.TargetChunkSize / 10
	}
	return c
}

// Extractor splits document text into page-addressed chunks
type Extractor struct {
	config    Config
	detectors *DetectorRegistry
}

// NewExtractor creates a new extractor
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{
		config:    cfg.withDefaults(),
		detectors: NewDetectorRegistry(),
	}
}

// WithDetectors replaces the page break detectors
func (e *Extractor) WithDetectors(r *DetectorRegistry) *Extractor {
	e.detectors = r
	return e
}

// ExtractChunks splits text with the default detectors. It never fails;
// empty text yields zero chunks.
func ExtractChunks(documentID, text string, cfg Config) model.ExtractionResult {
	return NewExtractor(cfg).Extract(documentID, text)
}

// Extract splits one document into ordered chunks
func (e *Extractor) Extract(documentID, text string) model.ExtractionResult {
	pages := splitPages(text, e.detectors)

	result := model.ExtractionResult{
		DocumentID:      documentID,
		Chunks:          []model.Chunk{},
		PageCount:       len(pages),
		TotalCharacters: utf8.RuneCountInString(text),
	}

	for _, p := range pages {
		for _, span := range e.splitPage(p.text) {
			index := len(result.Chunks)
			result.Chunks = append(result.Chunks, model.Chunk{
				ID:          chunkID(documentID, index),
				DocumentID:  documentID,
				Page:        p.number,
				StartOffset:    span.start,
				EndOffset:      span.end,
				DocStartOffset: p.offset + span.start,
				DocEndOffset:   p.offset + span.end,
				Text:           p.text[span.start:span.end],
				ChunkIndex:     index,
			})
		}
	}

	return result
}

type span struct {
	start, end int
}

// splitPage returns the chunk spans of one page
func (e *Extractor) splitPage(text string) []span {
	n := len(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if n <= e.config.MaxChunkSize {
		return []span{{0, n}}
	}

	var spans []span
	chunkStart := 0 // start of the next emitted chunk
	cursor := 0     // where the next cut search begins

	for cursor < n {
		end := n
		if n-cursor > e.config.MaxChunkSize {
			end = e.findCut(text, cursor)
		}

		trimmed := len(strings.TrimSpace(text[chunkStart:end]))
		switch {
		case trimmed > 0 && trimmed >= e.config.MinChunkSize:
			spans = append(spans, span{chunkStart, end})
			chunkStart = end
		case len(spans) > 0:
			// Undersized: fold into the previous chunk rather than lose citable text.
			spans[len(spans)-1].end = end
			chunkStart = end
		case trimmed > 0:
			spans = append(spans, span{chunkStart, end})
			chunkStart = end
		}
		// Blank with nothing before it: carried into the next chunk.
		cursor = end
	}

	return spans
}

// findCut picks the cut point for a chunk starting at start. It scans the
// window [start+Target, start+Max] backward for a paragraph break, then a
// sentence end, then any whitespace, and falls back to a hard cut at start+Max.
func (e *Extractor) findCut(text string, start int) int {
	hi := start + e.config.MaxChunkSize
	lo := start + e.config.TargetChunkSize
	if lo >= hi {
		lo = start + 1
	}
	window := text[lo:hi]

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return lo + i + 2
	}

	for i := len(window) - 1; i > 0; i-- {
		if !isSentenceEnd(window[i-1]) {
			continue
		}
		if r, size := utf8.DecodeRuneInString(window[i:]); unicode.IsSpace(r) {
			return lo + i + size
		}
	}

	for i := len(window); i > 0; {
		r, size := utf8.DecodeLastRuneInString(window[:i])
		if unicode.IsSpace(r) {
			return lo + i
		}
		i -= size
	}

	cut := hi
	for cut > start+1 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return cut
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// chunkID derives a stable ID from the document and chunk position so that
// re-extraction yields identical chunks.
func chunkID(documentID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+"/"+strconv.Itoa(index))).String()
}
