package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/redline/internal/extract"
)

var hashAlgorithm string

// hashCmd represents the hash command
var hashCmd = &cobra.Command{
	Use:   "hash <file>...",
	Short: "Print content hashes of files",
	Long: `Hash prints the content digest redline stores for each file. SHA-256
digests are bare hex; other algorithms are prefixed with "<algorithm>:".

Example:
  redline hash memo.txt
  redline hash memo.txt --algorithm blake3
  cat memo.txt | redline hash -`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		algorithm := hashAlgorithm
		if algorithm == "" {
			algorithm = cfg.Hash.Algorithm
		}
		h := extract.NewHasher(algorithm)

		for _, name := range args {
			data, err := readInput(cmd, name)
			if err != nil {
				return err
			}
			sum, err := h.Sum(string(data))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)

	hashCmd.Flags().StringVar(&hashAlgorithm, "algorithm", "", "hash algorithm: sha256 or blake3 (default from config)")
}
