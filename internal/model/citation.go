package model

// Citation is the structured form of a reference from a claim to document text.
// Its canonical string form is "<document_id>.<page>.<start_offset>-<end_offset>".
type Citation struct {
	DocumentID  string `json:"document_id"`
	Page        int    `json:"page"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Excerpt     string `json:"excerpt,omitempty"`
	ChunkID     string `json:"chunk_id,omitempty"`
}

// MaxExcerptLength bounds the excerpt stored on a citation, in runes.
const MaxExcerptLength = 200
