package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newQueryCmd creates the 'query' subcommand.
func newQueryCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "query TEXT...",
		Short: "Retrieve the indexed chunks most relevant to a question",
		Long: `Embeds the query, searches the vector index and prints the matching
chunks with their similarity and confidence scores as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := appInstance.Retrieve(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 5, "maximum number of results")
	return cmd
}
