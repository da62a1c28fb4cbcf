package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Boundary is one page break marker found in a document
type Boundary struct {
	Start  int // byte offset where the marker begins
	End    int // byte offset just past the marker
	Number int // page number carried by the marker, 0 if none
}

// BoundaryDetector finds page breaks of one marker style
type BoundaryDetector interface {
	// Name returns the detector name
	Name() string

	// Detect returns the markers found in text, in order, and whether any matched
	Detect(text string) ([]Boundary, bool)
}

// page is one segment of the document between page markers
type page struct {
	number int
	text   string
	offset int // byte offset of text in the document
}

// regexDetector detects markers matching a line-anchored pattern.
// If the pattern has a capture group, it holds the page number.
type regexDetector struct {
	name    string
	pattern *regexp.Regexp
}

func (d *regexDetector) Name() string {
	return d.name
}

func (d *regexDetector) Detect(text string) ([]Boundary, bool) {
	matches := d.pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, false
	}

	boundaries := make([]Boundary, 0, len(matches))
	for _, m := range matches {
		b := Boundary{Start: m[0], End: m[1]}
		if len(m) >= 4 && m[2] >= 0 {
			if n, err := strconv.Atoi(text[m[2]:m[3]]); err == nil {
				b.Number = n
			}
		}
		boundaries = append(boundaries, b)
	}
	return boundaries, true
}

// formFeedDetector splits on the form feed control character
type formFeedDetector struct{}

func (formFeedDetector) Name() string {
	return "form-feed"
}

func (formFeedDetector) Detect(text string) ([]Boundary, bool) {
	var boundaries []Boundary
	for i := 0; i < len(text); i++ {
		if text[i] == '\f' {
			boundaries = append(boundaries, Boundary{Start: i, End: i + 1})
		}
	}
	return boundaries, len(boundaries) > 0
}

// DefaultDetectors returns the page break detectors in priority order
func DefaultDetectors() []BoundaryDetector {
	return []BoundaryDetector{
		&regexDetector{
			name:    "page-dash-marker",
			pattern: regexp.MustCompile(`(?mi)^[ \t]*-{2,}[ \t]*PAGE[ \t]+(\d+)[ \t]*-{2,}[ \t]*$`),
		},
		&regexDetector{
			name:    "page-bracket-marker",
			pattern: regexp.MustCompile(`(?mi)^[ \t]*\[PAGE[ \t]+(\d+)\][ \t]*$`),
		},
		&regexDetector{
			name:    "page-equals-marker",
			pattern: regexp.MustCompile(`(?m)^[ \t]*={3,}[ \t]*(\d+)[ \t]*={3,}[ \t]*$`),
		},
		formFeedDetector{},
		&regexDetector{
			name:    "dash-run",
			pattern: regexp.MustCompile(`(?m)^[ \t]*-{10,}[ \t]*$`),
		},
	}
}

var defaultDetectors = DefaultDetectors()

// DetectorRegistry selects the first detector that matches a document
type DetectorRegistry struct {
	detectors []BoundaryDetector
}

// NewDetectorRegistry creates a registry with the default detectors
func NewDetectorRegistry() *DetectorRegistry {
	return &DetectorRegistry{detectors: defaultDetectors}
}

// Register appends a detector with the lowest priority
func (r *DetectorRegistry) Register(d BoundaryDetector) {
	detectors := make([]BoundaryDetector, 0, len(r.detectors)+1)
	detectors = append(detectors, r.detectors...)
	r.detectors = append(detectors, d)
}

// Find returns the first detector matching text and its boundaries.
// The returned name is empty when no detector matched.
func (r *DetectorRegistry) Find(text string) (string, []Boundary) {
	for _, d := range r.detectors {
		if boundaries, ok := d.Detect(text); ok {
			return d.Name(), boundaries
		}
	}
	return "", nil
}

// splitPages splits text into pages using the first matching detector.
// Without any marker the whole text is page 1.
func splitPages(text string, registry *DetectorRegistry) []page {
	if text == "" {
		return nil
	}

	_, boundaries := registry.Find(text)
	if len(boundaries) == 0 {
		return []page{{number: 1, text: text}}
	}

	var pages []page
	last := 0
	nextNumber := func(marker int) int {
		if marker > last {
			last = marker
		} else {
			last++
		}
		return last
	}

	// Text before the first marker is a page only if it holds anything. It
	// takes the number just below the first marker; a header above page 1
	// stays part of page 1.
	first := 0
	if pre := text[:boundaries[0].Start]; strings.TrimSpace(pre) != "" {
		switch n := boundaries[0].Number; {
		case n == 1:
			end := len(text)
			if len(boundaries) > 1 {
				end = boundaries[1].Start
			}
			pages = append(pages, page{number: nextNumber(1), text: text[:end]})
			first = 1
		case n > 1:
			pages = append(pages, page{number: nextNumber(n - 1), text: pre})
		default:
			pages = append(pages, page{number: nextNumber(0), text: pre})
		}
	}

	for i := first; i < len(boundaries); i++ {
		b := boundaries[i]
		end := len(text)
		if i+1 < len(boundaries) {
			end = boundaries[i+1].Start
		}
		pages = append(pages, page{number: nextNumber(b.Number), text: text[b.End:end], offset: b.End})
	}

	return pages
}
