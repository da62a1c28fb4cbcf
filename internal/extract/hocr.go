package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
)

// hOCR class names, see the hOCR embedded OCR format
const (
	hocrPage = "ocr_page"
	hocrPar  = "ocr_par"
	hocrLine = "ocr_line"
	hocrWord = "ocrx_word"
)

// ReadHOCR converts hOCR output from an OCR engine into plain text.
// Each ocr_page becomes one page introduced by a "--- PAGE n ---" marker so
// the result feeds straight into ExtractChunks. Documents without
// ocr_page elements are returned as their visible text.
func ReadHOCR(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", eris.Wrap(err, "extract: parse hOCR")
	}

	pages := findByClass(doc, hocrPage)
	if len(pages) == 0 {
		return strings.TrimSpace(visibleText(doc)), nil
	}

	var buf strings.Builder
	for i, p := range pages {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "--- PAGE %d ---\n", i+1)
		buf.WriteString(pageText(p))
		buf.WriteString("\n")
	}
	return buf.String(), nil
}

// pageText renders one ocr_page: words joined by spaces, lines by newlines,
// paragraphs by blank lines.
func pageText(n *html.Node) string {
	var paragraphs []string
	pars := findByClass(n, hocrPar)
	if len(pars) == 0 {
		pars = []*html.Node{n}
	}

	for _, par := range pars {
		var lines []string
		lineNodes := findByClass(par, hocrLine)
		if len(lineNodes) == 0 {
			lineNodes = []*html.Node{par}
		}
		for _, line := range lineNodes {
			var words []string
			for _, w := range findByClass(line, hocrWord) {
				if t := strings.TrimSpace(visibleText(w)); t != "" {
					words = append(words, t)
				}
			}
			if len(words) == 0 {
				words = strings.Fields(visibleText(line))
			}
			if len(words) > 0 {
				lines = append(lines, strings.Join(words, " "))
			}
		}
		if len(lines) > 0 {
			paragraphs = append(paragraphs, strings.Join(lines, "\n"))
		}
	}

	return strings.Join(paragraphs, "\n\n")
}

// findByClass returns the outermost elements under n carrying class
func findByClass(n *html.Node, class string) []*html.Node {
	var results []*html.Node

	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if hasClass(node, class) {
			results = append(results, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return results
}

// hasClass checks if a node has a specific CSS class
func hasClass(n *html.Node, className string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		if attr.Key == "class" {
			for _, class := range strings.Fields(attr.Val) {
				if class == className {
					return true
				}
			}
		}
	}
	return false
}

// visibleText extracts text nodes, skipping scripts/styles
func visibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(n)
	return buf.String()
}
