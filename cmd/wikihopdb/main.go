// wikihopdb builds the article-link SQLite database the wikirace server
// reads, straight from Wikimedia SQL dumps.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wikiracing-llms/wikirace/pkg/ingest"
	"github.com/wikiracing-llms/wikirace/pkg/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts ingest.Options

	cmd := &cobra.Command{
		Use:   "wikihopdb",
		Short: "Build the article-link database from Wikimedia SQL dumps",
		Long: `Build the core_articles SQLite database from Wikimedia SQL dumps,
without scraping any wiki. The wiki's page table supplies article titles
and pagelinks supplies the outgoing links; both the modern (pl_target_id +
linktarget) and legacy (pl_namespace/pl_title) pagelinks schemas work.

Examples:
  # Simple Wikipedia, latest snapshot, downloading dumps as needed
  wikihopdb --wiki simplewiki --dump-date latest --download \
    --output wikihop.db --overwrite

  # Reuse already-downloaded dump files
  wikihopdb --dump-dir ./wikimedia_dumps --output wikihop.db`,
		Version:      version.GitCommit,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ingest.Build(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Wiki, "wiki", "simplewiki", "wiki code on dumps.wikimedia.org (e.g. simplewiki, enwiki)")
	flags.StringVar(&opts.DumpDate, "dump-date", "latest", "dump date directory (latest or YYYYMMDD)")
	flags.StringVar(&opts.DumpDir, "dump-dir", "wikimedia_dumps", "directory to store/read dump files")
	flags.BoolVar(&opts.Download, "download", false, "download missing dump files")
	flags.StringVar(&opts.Output, "output", "wikihop.db", "output path for the SQLite database")
	flags.BoolVar(&opts.Overwrite, "overwrite", false, "overwrite the output file if it already exists")
	flags.BoolVar(&opts.SortLinks, "sort-links", false, "sort outgoing links alphabetically (default is dump order)")

	return cmd
}
