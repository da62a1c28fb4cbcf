package cli

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ppiankov/redline/internal/cite"
	"github.com/ppiankov/redline/internal/model"
)

var (
	citeDoc   string
	citePage  int
	citeStart int
	citeEnd   int
)

// citeCmd groups the citation commands
var citeCmd = &cobra.Command{
	Use:   "cite",
	Short: "Format, parse and locate citations",
	Long: `A citation addresses a byte span of one page of one document. Its
canonical form is "<document_id>.<page>.<start_offset>-<end_offset>", with
1-based pages and half-open offsets into the page text.`,
}

var citeFormatCmd = &cobra.Command{
	Use:   "format",
	Short: "Print the canonical form of a citation",
	Long: `Example:
  redline cite format --doc memo --page 2 --start 10 --end 45`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := model.Citation{DocumentID: citeDoc, Page: citePage, StartOffset: citeStart, EndOffset: citeEnd}
		if !cite.Valid(c) {
			return eris.Errorf("%s does not address a valid span", cite.Format(c))
		}
		fmt.Fprintln(cmd.OutOrStdout(), cite.Format(c))
		return nil
	},
}

var citeParseCmd = &cobra.Command{
	Use:   "parse <citation>",
	Short: "Parse a canonical citation into JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ok := cite.Parse(args[0])
		if !ok {
			return eris.Errorf("%q is not a canonical citation", args[0])
		}
		return writeJSON(cmd.OutOrStdout(), c)
	},
}

var citeLocateCmd = &cobra.Command{
	Use:   "locate <document_id> <excerpt>",
	Short: "Find an excerpt in a stored document and cite it",
	Long: `Locate searches the chunks of a stored document for the excerpt,
tolerating OCR noise, and prints a citation for the first match. The span is
exact when the excerpt occurs verbatim and covers the whole chunk otherwise.

Example:
  redline cite locate memo "dated March 3, 1998"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		docID, excerpt := args[0], strings.Join(args[1:], " ")
		chunks, err := st.ListChunks(cmd.Context(), docID)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			return eris.Errorf("document %s has no stored chunks", docID)
		}

		c, ok := cite.CreateCitationFromExcerpt(chunks, excerpt, docID)
		if !ok {
			return eris.Errorf("excerpt not found in %s", docID)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), cite.Format(c))
		return writeJSON(cmd.OutOrStdout(), c)
	},
}

var citeResolveCmd = &cobra.Command{
	Use:   "resolve <citation>",
	Short: "Print the stored text a citation points at",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ok := cite.Parse(args[0])
		if !ok {
			return eris.Errorf("%q is not a canonical citation", args[0])
		}

		_, st, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		chunks, err := st.ListChunks(cmd.Context(), c.DocumentID)
		if err != nil {
			return err
		}
		chunk, ok := cite.Resolve(chunks, c)
		if !ok {
			return eris.Errorf("%s does not fall inside a stored chunk", args[0])
		}

		start, end := c.StartOffset-chunk.StartOffset, c.EndOffset-chunk.StartOffset
		fmt.Fprintln(cmd.OutOrStdout(), chunk.Text[start:end])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(citeCmd)
	citeCmd.AddCommand(citeFormatCmd, citeParseCmd, citeLocateCmd, citeResolveCmd)

	citeFormatCmd.Flags().StringVar(&citeDoc, "doc", "", "document id")
	citeFormatCmd.Flags().IntVar(&citePage, "page", 1, "1-based page number")
	citeFormatCmd.Flags().IntVar(&citeStart, "start", 0, "start byte offset (inclusive)")
	citeFormatCmd.Flags().IntVar(&citeEnd, "end", 0, "end byte offset (exclusive)")
	_ = citeFormatCmd.MarkFlagRequired("doc")
}
