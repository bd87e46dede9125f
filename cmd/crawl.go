// Package cmd defines and implements the CLI commands for the researcher
// executable.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "crawl SEED [SEED...]",
		Short: "Crawl seed URLs and index what they link to",
		Long: `Visits every seed and each page linked from it up to --depth hops away,
subject to the domain policy, robots.txt and rate limits. Extracted text is
chunked, embedded and written to the configured vector index. A JSON
summary of the session is printed on completion.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, crawlErr := appInstance.Crawl(cmd.Context(), args, depth)
			if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if crawlErr != nil {
				return fmt.Errorf("crawl: %w", crawlErr)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 2, "maximum link hops from a seed")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
