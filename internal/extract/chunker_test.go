package extract

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/redline/internal/model"
)

func TestExtractChunks_UnpunctuatedHardCut(t *testing.T) {
	text := strings.Repeat("A", 2000)

	result := ExtractChunks("doc1", text, Config{TargetChunkSize: 500, MaxChunkSize: 1000})

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, 1, result.PageCount)
	assert.Equal(t, 2000, result.TotalCharacters)

	assert.Equal(t, 0, result.Chunks[0].StartOffset)
	assert.Equal(t, 1000, result.Chunks[0].EndOffset)
	assert.Equal(t, 1000, result.Chunks[1].StartOffset)
	assert.Equal(t, 2000, result.Chunks[1].EndOffset)
	for _, c := range result.Chunks {
		assert.Equal(t, 1, c.Page)
		assert.Len(t, c.Text, 1000)
	}
}

func TestExtractChunks_EmptyText(t *testing.T) {
	result := ExtractChunks("doc1", "", DefaultConfig())

	assert.Equal(t, "doc1", result.DocumentID)
	assert.Empty(t, result.Chunks)
	assert.NotNil(t, result.Chunks)
	assert.Equal(t, 0, result.PageCount)
	assert.Equal(t, 0, result.TotalCharacters)
}

func TestExtractChunks_BlankText(t *testing.T) {
	result := ExtractChunks("doc1", "   \n\t  ", DefaultConfig())

	assert.Empty(t, result.Chunks)
	assert.Equal(t, 1, result.PageCount)
}

func TestExtractChunks_ShortPageIsOneChunk(t *testing.T) {
	text := "The ledger lists three payments."

	result := ExtractChunks("doc1", text, DefaultConfig())

	require.Len(t, result.Chunks, 1)
	c := result.Chunks[0]
	assert.Equal(t, text, c.Text)
	assert.Equal(t, 0, c.StartOffset)
	assert.Equal(t, len(text), c.EndOffset)
	assert.Equal(t, 0, c.ChunkIndex)
	assert.Equal(t, "doc1", c.DocumentID)
}

func TestExtractChunks_PageMarkers(t *testing.T) {
	text := "--- PAGE 1 ---\nFirst page text.\n--- PAGE 2 ---\nSecond page text.\n"

	result := ExtractChunks("doc1", text, DefaultConfig())

	assert.Equal(t, 2, result.PageCount)
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, 1, result.Chunks[0].Page)
	assert.Contains(t, result.Chunks[0].Text, "First page text.")
	assert.NotContains(t, result.Chunks[0].Text, "PAGE")
	assert.Equal(t, 2, result.Chunks[1].Page)
	assert.Contains(t, result.Chunks[1].Text, "Second page text.")
	assert.Equal(t, 1, result.Chunks[1].ChunkIndex)
	assert.Equal(t, 0, result.Chunks[1].StartOffset)
}

func TestExtractChunks_PrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("word ", 120) + "\n\n" + strings.Repeat("word ", 200)
	cfg := Config{TargetChunkSize: 500, MaxChunkSize: 1000, MinChunkSize: 50}

	result := ExtractChunks("doc1", text, cfg)

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, 602, result.Chunks[0].EndOffset)
	assert.True(t, strings.HasSuffix(result.Chunks[0].Text, "\n\n"))
	assert.Equal(t, 602, result.Chunks[1].StartOffset)
	assert.Equal(t, len(text), result.Chunks[1].EndOffset)
}

func TestExtractChunks_PrefersSentenceEnd(t *testing.T) {
	text := strings.Repeat("a", 699) + ". " + strings.Repeat("b", 900)
	cfg := Config{TargetChunkSize: 500, MaxChunkSize: 1000, MinChunkSize: 50}

	result := ExtractChunks("doc1", text, cfg)

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, 701, result.Chunks[0].EndOffset)
	assert.True(t, strings.HasSuffix(result.Chunks[0].Text, ". "))
	assert.Equal(t, strings.Repeat("b", 900), result.Chunks[1].Text)
}

func TestExtractChunks_MergesUndersizedTail(t *testing.T) {
	text := strings.Repeat("x", 990) + " " + strings.Repeat("y", 15)
	cfg := Config{TargetChunkSize: 500, MaxChunkSize: 1000, MinChunkSize: 100}

	result := ExtractChunks("doc1", text, cfg)

	require.Len(t, result.Chunks, 1, "undersized tail must be merged, not dropped")
	assert.Equal(t, 0, result.Chunks[0].StartOffset)
	assert.Equal(t, len(text), result.Chunks[0].EndOffset)
	assert.True(t, strings.HasSuffix(result.Chunks[0].Text, strings.Repeat("y", 15)))
}

func TestExtractChunks_HardCutKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("é", 1000) // 2 bytes per rune
	cfg := Config{TargetChunkSize: 500, MaxChunkSize: 1001, MinChunkSize: 10}

	result := ExtractChunks("doc1", text, cfg)

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, 1000, result.Chunks[0].EndOffset)
	assert.Equal(t, 1000, result.TotalCharacters)
	for _, c := range result.Chunks {
		assert.True(t, utf8.ValidString(c.Text))
	}
}

func TestExtractChunks_Invariants(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "--- PAGE %d ---\n", i+1)
		for j := 0; j < 30+i; j++ {
			b.WriteString("The witness statement on this page was partially redacted. ")
			if j%7 == 0 {
				b.WriteString("\n\n")
			}
		}
	}
	cfg := Config{TargetChunkSize: 300, MaxChunkSize: 600, MinChunkSize: 40}

	result := ExtractChunks("doc-inv", b.String(), cfg)
	require.NotEmpty(t, result.Chunks)
	assert.Equal(t, 40, result.PageCount)

	text := b.String()
	prev := model.Chunk{Page: 0}
	for i, c := range result.Chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.GreaterOrEqual(t, c.StartOffset, 0)
		assert.Greater(t, c.EndOffset, c.StartOffset)
		assert.Len(t, c.Text, c.EndOffset-c.StartOffset)
		assert.Equal(t, c.Text, text[c.DocStartOffset:c.DocEndOffset])
		if i > 0 {
			assert.GreaterOrEqual(t, c.DocStartOffset, prev.DocEndOffset, "document offsets must not decrease")
			if c.Page == prev.Page {
				assert.Equal(t, prev.EndOffset, c.StartOffset, "chunks on a page must not gap or overlap")
			} else {
				assert.Greater(t, c.Page, prev.Page)
			}
		}
		prev = c
	}
}

func TestExtractChunks_DocumentOffsetsAcrossPages(t *testing.T) {
	text := "--- PAGE 1 ---\n" + strings.Repeat("Ledger entry for the eastern depot. ", 30) +
		"\n--- PAGE 2 ---\nShort closing note on page two."
	cfg := Config{TargetChunkSize: 500, MaxChunkSize: 1000, MinChunkSize: 50}

	result := ExtractChunks("doc-pages", text, cfg)
	require.Len(t, result.Chunks, 3)

	last := result.Chunks[2]
	assert.Equal(t, 2, last.Page)
	assert.Equal(t, 0, last.StartOffset, "citations stay page relative")
	assert.Equal(t, strings.Index(text, "--- PAGE 2 ---")+len("--- PAGE 2 ---"), last.DocStartOffset)

	for i := 1; i < len(result.Chunks); i++ {
		prev, c := result.Chunks[i-1], result.Chunks[i]
		assert.GreaterOrEqual(t, c.DocStartOffset, prev.DocStartOffset)
		assert.True(t, c.Page > prev.Page || (c.Page == prev.Page && c.StartOffset >= prev.StartOffset),
			"chunks ordered by (page, start_offset)")
		assert.Equal(t, c.Text, text[c.DocStartOffset:c.DocEndOffset])
	}
}

func TestExtractChunks_HeaderAbovePageOne(t *testing.T) {
	text := "CONFIDENTIAL - CASE 17\n--- PAGE 1 ---\nFirst page body.\n--- PAGE 2 ---\nSecond page body."

	result := ExtractChunks("doc-hdr", text, DefaultConfig())
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, 2, result.PageCount)

	second := result.Chunks[1]
	assert.Equal(t, 2, second.Page)
	assert.Equal(t, "\nSecond page body.", second.Text)
	assert.Equal(t, 0, result.Chunks[0].DocStartOffset)
}

func TestExtractChunks_SinglePageCoverage(t *testing.T) {
	text := strings.Repeat("Paragraph about the shipment. It left port at night.\n\n", 80)
	cfg := Config{TargetChunkSize: 400, MaxChunkSize: 700, MinChunkSize: 60}

	result := ExtractChunks("doc1", text, cfg)

	var rebuilt strings.Builder
	for _, c := range result.Chunks {
		rebuilt.WriteString(c.Text)
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestExtractChunks_Idempotent(t *testing.T) {
	text := strings.Repeat("Repeatable content. ", 300)

	first := ExtractChunks("doc1", text, DefaultConfig())
	second := ExtractChunks("doc1", text, DefaultConfig())

	assert.Equal(t, first, second)
}

func TestExtractChunks_IDsAreDocumentScoped(t *testing.T) {
	a := ExtractChunks("doc-a", "same text", DefaultConfig())
	b := ExtractChunks("doc-b", "same text", DefaultConfig())

	require.Len(t, a.Chunks, 1)
	require.Len(t, b.Chunks, 1)
	assert.NotEqual(t, a.Chunks[0].ID, b.Chunks[0].ID)
}

func TestExtractChunks_InvalidConfigFallsBack(t *testing.T) {
	text := strings.Repeat("A", 3500)

	result := ExtractChunks("doc1", text, Config{})

	require.NotEmpty(t, result.Chunks)
	for _, c := range result.Chunks {
		assert.LessOrEqual(t, c.Len(), DefaultConfig().MaxChunkSize)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero min", Config{TargetChunkSize: 10, MaxChunkSize: 20}, true},
		{"min above target", Config{TargetChunkSize: 10, MaxChunkSize: 20, MinChunkSize: 15}, true},
		{"target above max", Config{TargetChunkSize: 30, MaxChunkSize: 20, MinChunkSize: 5}, true},
		{"target equals max", Config{TargetChunkSize: 20, MaxChunkSize: 20, MinChunkSize: 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
