package cli

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ppiankov/redline/internal/extract"
	"github.com/ppiankov/redline/internal/pipeline"
)

var (
	ingestID          string
	ingestHOCR        bool
	ingestDryRun      bool
	ingestJSON        bool
	ingestConcurrency int
	ingestTimeout     time.Duration
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Chunk OCR text and store it as addressable documents",
	Long: `Ingest splits each file into page-addressed chunks and stores the
document, its content hash and its chunks. Text already stored under any id
is not chunked again.

Pages are detected from "--- PAGE n ---" markers, "[Page n]" markers or form
feeds. With --hocr the input is hOCR output from an OCR engine.

The document id defaults to the file name without its extension.

Example:
  redline ingest memo.txt
  redline ingest scan.hocr --hocr --id case-17-memo
  redline ingest pages/*.txt --concurrency 8
  redline ingest memo.txt --dry-run --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestID, "id", "", "document id (single file only)")
	ingestCmd.Flags().BoolVar(&ingestHOCR, "hocr", false, "input is hOCR markup")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "print chunks without storing them")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "print results as JSON")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", runtime.NumCPU(), "documents ingested in parallel")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 10*time.Minute, "overall ingest timeout")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestID != "" && len(args) > 1 {
		return eris.New("--id applies to a single file")
	}

	sources := make([]pipeline.Source, 0, len(args))
	for _, name := range args {
		src, err := readSource(cmd, name)
		if err != nil {
			return err
		}
		if ingestID != "" {
			src.ID = ingestID
		}
		sources = append(sources, src)
	}

	out := cmd.OutOrStdout()

	if ingestDryRun {
		results := make([]any, 0, len(sources))
		for _, src := range sources {
			res := extract.ExtractChunks(src.ID, src.Text, cfg.Chunking)
			if ingestJSON {
				results = append(results, res)
				continue
			}
			fmt.Fprintf(out, "%s: %d pages, %d chunks, %d characters\n",
				src.ID, res.PageCount, len(res.Chunks), res.TotalCharacters)
			for _, c := range res.Chunks {
				fmt.Fprintf(out, "  #%d page %d [%d-%d) %s\n", c.ChunkIndex, c.Page, c.StartOffset, c.EndOffset, preview(c.Text, 60))
			}
		}
		if ingestJSON {
			return writeJSON(out, results)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
	defer cancel()

	p, st, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	results, err := p.IngestAll(ctx, sources, ingestConcurrency)
	if err != nil {
		return err
	}

	if ingestJSON {
		return writeJSON(out, results)
	}
	for _, res := range results {
		note := ""
		switch {
		case res.Duplicate:
			note = " (already stored)"
		case res.Cached:
			note = " (cached)"
		}
		fmt.Fprintf(out, "✓ %s: %d pages, %d chunks, %s%s\n",
			res.Document.ID, res.Document.PageCount, len(res.Chunks), res.Document.ContentHash, note)
	}
	return nil
}

// readSource loads one input file, converting hOCR when requested
func readSource(cmd *cobra.Command, name string) (pipeline.Source, error) {
	data, err := readInput(cmd, name)
	if err != nil {
		return pipeline.Source{}, err
	}

	text := string(data)
	if ingestHOCR {
		text, err = extract.ReadHOCR(bytes.NewReader(data))
		if err != nil {
			return pipeline.Source{}, eris.Wrapf(err, "read hOCR %s", name)
		}
	}

	id := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if name == "-" {
		id = ""
	}
	return pipeline.Source{ID: id, Text: text}, nil
}

// preview collapses whitespace and shortens s for one-line display
func preview(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return s
}
