// Package cite converts between structured citations and their canonical
// string form and ties excerpts back to document chunks.
package cite

import (
	"regexp"
	"strconv"

	"github.com/ppiankov/redline/internal/model"
)

// canonicalPattern anchors on the trailing ".<page>.<start>-<end>"; the
// greedy prefix is the document id, so ids may themselves contain '.' or '-'.
var canonicalPattern = regexp.MustCompile(`(?s)^(.+)\.(\d+)\.(\d+)-(\d+)$`)

// Format renders c as "<document_id>.<page>.<start_offset>-<end_offset>"
func Format(c model.Citation) string {
	return c.DocumentID + "." + strconv.Itoa(c.Page) + "." +
		strconv.Itoa(c.StartOffset) + "-" + strconv.Itoa(c.EndOffset)
}

// Parse reads a canonical citation string. It reports false, never an
// error, for anything that is not a well-formed citation.
func Parse(s string) (model.Citation, bool) {
	m := canonicalPattern.FindStringSubmatch(s)
	if m == nil {
		return model.Citation{}, false
	}

	page, err := strconv.Atoi(m[2])
	if err != nil {
		return model.Citation{}, false
	}
	start, err := strconv.Atoi(m[3])
	if err != nil {
		return model.Citation{}, false
	}
	end, err := strconv.Atoi(m[4])
	if err != nil {
		return model.Citation{}, false
	}

	c := model.Citation{
		DocumentID:  m[1],
		Page:        page,
		StartOffset: start,
		EndOffset:   end,
	}
	if !Valid(c) {
		return model.Citation{}, false
	}
	return c, true
}

// Valid reports whether c addresses a non-empty span on a real page of a
// named document. Only valid citations survive a Format/Parse round trip.
func Valid(c model.Citation) bool {
	return c.DocumentID != "" && c.Page >= 1 && c.StartOffset >= 0 && c.EndOffset > c.StartOffset
}
