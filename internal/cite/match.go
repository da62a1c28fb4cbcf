package cite

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ppiankov/redline/internal/model"
)

// FuzzyThreshold is the share of search tokens a chunk must contain to match
const FuzzyThreshold = 0.7

// minTokenLength drops short words ("of", "to") from fuzzy matching
const minTokenLength = 3

// FindChunksContaining returns the chunks containing text, in input order.
// Exact mode is case-insensitive substring containment. Fuzzy mode accepts a
// chunk holding at least FuzzyThreshold of the search words, which tolerates
// OCR noise.
func FindChunksContaining(chunks []model.Chunk, text string, fuzzy bool) []model.Chunk {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil
	}

	tokens := searchTokens(needle)
	var matches []model.Chunk
	for _, c := range chunks {
		hay := strings.ToLower(c.Text)
		if fuzzy && len(tokens) > 0 {
			if tokenCoverage(hay, tokens) >= FuzzyThreshold {
				matches = append(matches, c)
			}
			continue
		}
		if strings.Contains(hay, needle) {
			matches = append(matches, c)
		}
	}
	return matches
}

// CreateCitationFromExcerpt builds a citation for excerpt against the first
// chunk that fuzzily contains it. Offsets are tightened to the exact excerpt
// when it occurs verbatim (ignoring case) and otherwise span the whole chunk.
func CreateCitationFromExcerpt(chunks []model.Chunk, excerpt, documentID string) (model.Citation, bool) {
	matches := FindChunksContaining(chunks, excerpt, true)
	if len(matches) == 0 {
		return model.Citation{}, false
	}
	chunk := matches[0]

	c := model.Citation{
		DocumentID:  documentID,
		Page:        chunk.Page,
		StartOffset: chunk.StartOffset,
		EndOffset:   chunk.EndOffset,
		Excerpt:     truncate(strings.TrimSpace(excerpt), model.MaxExcerptLength),
		ChunkID:     chunk.ID,
	}

	needle := strings.TrimSpace(excerpt)
	if i := indexFold(chunk.Text, needle); i >= 0 {
		c.StartOffset = chunk.StartOffset + i
		c.EndOffset = c.StartOffset + len(needle)
	}
	return c, true
}

// Resolve returns the chunk whose span covers c
func Resolve(chunks []model.Chunk, c model.Citation) (model.Chunk, bool) {
	for _, chunk := range chunks {
		if chunk.DocumentID == c.DocumentID && chunk.Contains(c.Page, c.StartOffset, c.EndOffset) {
			return chunk, true
		}
	}
	return model.Chunk{}, false
}

// searchTokens splits lowered text into words longer than two runes,
// stripped of surrounding punctuation.
func searchTokens(text string) []string {
	var tokens []string
	for _, field := range strings.Fields(text) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if utf8.RuneCountInString(word) >= minTokenLength {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

func tokenCoverage(hay string, tokens []string) float64 {
	found := 0
	for _, tok := range tokens {
		if strings.Contains(hay, tok) {
			found++
		}
	}
	return float64(found) / float64(len(tokens))
}

// indexFold is a case-insensitive strings.Index that returns a byte offset
// into s. Only windows with the same byte length as substr are compared.
func indexFold(s, substr string) int {
	if substr == "" {
		return -1
	}
	if i := strings.Index(s, substr); i >= 0 {
		return i
	}
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if !utf8.RuneStart(s[i]) {
			continue
		}
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

// truncate limits s to limit runes
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
