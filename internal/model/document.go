package model

import "time"

// Document is one ingested OCR text. Immutable once created.
type Document struct {
	ID          string    `json:"id"`
	Text        string    `json:"text,omitempty"`
	ContentHash string    `json:"content_hash"`
	PageCount   int       `json:"page_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chunk is the minimal addressable unit of document text.
// StartOffset and EndOffset are half-open byte offsets into the page text
// and are what citations address. DocStartOffset and DocEndOffset locate the
// same span in the whole document and never decrease with ChunkIndex.
type Chunk struct {
	ID             string `json:"id"`
	DocumentID     string `json:"document_id"`
	Page           int    `json:"page"`         // 1-based
	StartOffset    int    `json:"start_offset"` // inclusive
	EndOffset      int    `json:"end_offset"`   // exclusive
	DocStartOffset int    `json:"doc_start_offset"`
	DocEndOffset   int    `json:"doc_end_offset"`
	Text           string `json:"text"`
	ChunkIndex     int    `json:"chunk_index"` // global across the document
}

// Len returns the byte length of the chunk span.
func (c Chunk) Len() int {
	return c.EndOffset - c.StartOffset
}

// Contains reports whether the half-open span [start, end) on page lies inside the chunk.
func (c Chunk) Contains(page, start, end int) bool {
	return c.Page == page && start >= c.StartOffset && end <= c.EndOffset
}

// ExtractionResult is the output of chunk extraction for one document.
type ExtractionResult struct {
	DocumentID      string  `json:"document_id"`
	Chunks          []Chunk `json:"chunks"`
	PageCount       int     `json:"page_count"`
	TotalCharacters int     `json:"total_characters"`
}
