// Command esgfsearch retrieves complete ESGF search results and writes them as
// JSON lines, CSV, or download manifests for aria2c and Metalink clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/justapithecus/esgfsearch/esgf"
	"github.com/justapithecus/esgfsearch/internal/config"
)

// options holds the command-line flags of one invocation.
type options struct {
	configPath  string
	local       bool
	stop        int
	format      string
	filter      string
	from        string
	queries     []string
	output      string
	compress    string
	force       bool
	concurrency int
	timeout     time.Duration
	metricsFile string
	verbose     bool
	logFormat   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "esgfsearch [flags] [SELECTION...]",
		Short: "Retrieve complete ESGF search results",
		Long: `esgfsearch queries the ESGF search service and writes every matching
record, paging past the per-request limit of the index nodes.

Queries come from -q flags ("project=CMIP6 variable_id=tas") and from
selection files: blocks of key=value tokens separated by blank lines. A
selection argument of "-" reads standard input.

By default the first index node federates the query to its peers. With
--local every index node is queried in turn with federation disabled.

Formats: json, csv, aria2c, meta4, meta4f, parquet. The manifest formats
merge multi-part files into one entry with all HTTP URLs.

Examples:
  esgfsearch -q "project=CMIP6 experiment_id=ssp585 variable_id=tas" -f aria2c -o tas.aria2
  esgfsearch --filter cmip6 -f csv selections.txt
  esgfsearch --from saved.jsonl.zst -f meta4 -o s3://bucket/manifests/run.meta4`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML configuration file (default $"+config.EnvConfig+")")
	f.BoolVar(&opts.local, "local", false, "query every index node with federation disabled")
	f.IntVar(&opts.stop, "stop", esgf.NoStop, "stop after N records per index node (-1 for all)")
	f.StringVarP(&opts.format, "format", "f", "json", "output format: json, csv, aria2c, meta4, meta4f, parquet")
	f.StringVar(&opts.filter, "filter", "", "facet filter: cmip6, cordex, cmip5 or a comma-separated facet list")
	f.StringVar(&opts.from, "from", "", "convert saved JSON lines (file, s3:// or - for stdin) instead of searching")
	f.StringArrayVarP(&opts.queries, "query", "q", nil, `inline query "facet=value facet=value,value" (repeatable)`)
	f.StringVarP(&opts.output, "output", "o", "-", "output location: file, s3://bucket/key or - for stdout")
	f.StringVar(&opts.compress, "compress", "", "output compression: gzip, zstd or none (default from the output extension)")
	f.BoolVar(&opts.force, "force", false, "replace an existing output")
	f.IntVar(&opts.concurrency, "concurrency", 0, "index nodes searched in parallel in local mode")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-request timeout")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log every search request")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: json or console")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "esgfsearch:", err)
		os.Exit(1)
	}
}
