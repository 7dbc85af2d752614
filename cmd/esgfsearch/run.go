package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justapithecus/esgfsearch/esgf"
	esgfs3 "github.com/justapithecus/esgfsearch/esgf/s3"
	"github.com/justapithecus/esgfsearch/internal/config"
	"github.com/justapithecus/esgfsearch/internal/logging"
	"github.com/justapithecus/esgfsearch/internal/metrics"
	s3client "github.com/justapithecus/esgfsearch/internal/s3"
)

// errNoInput is returned when neither queries nor --from were given.
var errNoInput = errors.New("nothing to search: pass -q, a selection file or --from")

func run(cmd *cobra.Command, opts *options, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Verbose: opts.verbose,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Everything that can be rejected is checked before the first request.
	format, err := esgf.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	filter, err := esgf.ParseFilter(opts.filter)
	if err != nil {
		return err
	}

	var queries []esgf.Query
	if opts.from == "" {
		queries, err = collectQueries(cmd, opts.queries, args)
		if err != nil {
			return err
		}
		if len(queries) == 0 {
			_ = cmd.Usage()
			return errNoInput
		}
	} else if len(opts.queries) > 0 || len(args) > 0 {
		return errors.New("--from cannot be combined with queries or selection files")
	}

	m := metrics.New()
	mode := esgf.ModeFederated
	if opts.local {
		mode = esgf.ModeLocal
	}
	client, err := esgf.NewClient(
		esgf.WithEndpoints(cfg.Endpoints()...),
		esgf.WithMode(mode),
		esgf.WithPageSize(cfg.PageSize),
		esgf.WithTimeout(cfg.Timeout),
		esgf.WithConcurrency(cfg.Concurrency),
		esgf.WithUserAgent(cfg.UserAgent),
		esgf.WithLogger(logger),
		esgf.WithObserver(m),
	)
	if err != nil {
		return err
	}

	out, err := openOutput(ctx, cmd, cfg, opts)
	if err != nil {
		return err
	}
	formatter, err := esgf.NewFormatter(format, out)
	if err != nil {
		_ = out.Abort(err)
		return err
	}

	driver := &esgf.Driver{
		Searcher:  client,
		Filter:    filter,
		Formatter: formatter,
		Stop:      opts.stop,
		Logger:    logger,
	}
	logger.Debug("run start",
		zap.Stringer("mode", mode),
		zap.Stringer("format", format),
		zap.String("filter", filter.Name()),
		zap.Int("queries", len(queries)))

	var stats esgf.RunStats
	if opts.from != "" {
		stats, err = convert(ctx, cmd, cfg, driver, opts.from)
	} else {
		stats, err = driver.Run(ctx, queries)
	}
	if err != nil {
		_ = out.Abort(err)
		writeMetrics(logger, m, opts.metricsFile)
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("write %s: %w", opts.output, err)
	}

	m.ObserveRun(stats)
	writeMetrics(logger, m, opts.metricsFile)
	return nil
}

// loadConfig resolves the configuration: defaults, then the YAML file, then
// the environment, then explicitly set flags.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = opts.concurrency
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// collectQueries parses inline queries first, then selection files in
// argument order.
func collectQueries(cmd *cobra.Command, inline, files []string) ([]esgf.Query, error) {
	var queries []esgf.Query
	for _, s := range inline {
		q, err := esgf.ParseQuery(s)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", s, err)
		}
		if q.Len() > 0 {
			queries = append(queries, q)
		}
	}
	for _, path := range files {
		qs, err := readSelectionFile(cmd, path)
		if err != nil {
			return nil, fmt.Errorf("selection %s: %w", path, err)
		}
		queries = append(queries, qs...)
	}
	return queries, nil
}

func readSelectionFile(cmd *cobra.Command, path string) ([]esgf.Query, error) {
	if path == "-" {
		return esgf.ParseSelections(cmd.InOrStdin())
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return esgf.ParseSelections(f)
}

// -----------------------------------------------------------------------------
// Output and input locations
// -----------------------------------------------------------------------------

// output is where the formatter writes. Close publishes the result; Abort
// discards it.
type output interface {
	io.Writer
	Close() error
	Abort(cause error) error
}

// streamOutput writes to standard output, which cannot be taken back.
type streamOutput struct {
	io.WriteCloser
}

func (s streamOutput) Abort(error) error {
	return s.WriteCloser.Close()
}

func openOutput(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts *options) (output, error) {
	loc, err := esgf.ParseLocation(opts.output)
	if err != nil {
		return nil, err
	}
	c, err := outputCompressor(opts.compress, loc.Key)
	if err != nil {
		return nil, err
	}

	if loc.IsStdio() {
		w, err := c.Compress(cmd.OutOrStdout())
		if err != nil {
			return nil, err
		}
		return streamOutput{w}, nil
	}

	if loc.Scheme != "s3" {
		if err := os.MkdirAll(loc.Dir, 0o755); err != nil {
			return nil, err
		}
	}
	store, err := openStore(ctx, cfg, loc)
	if err != nil {
		return nil, err
	}
	key := loc.Key
	if !strings.HasSuffix(key, c.Extension()) {
		key += c.Extension()
	}

	exists, err := store.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		if !opts.force {
			return nil, fmt.Errorf("%s: %w (use --force to replace)", loc, esgf.ErrPathExists)
		}
		if err := store.Delete(ctx, key); err != nil {
			return nil, err
		}
	}
	return esgf.OpenSink(ctx, store, key, c)
}

// outputCompressor honours --compress, falling back to the output extension.
func outputCompressor(name, key string) (esgf.Compressor, error) {
	if name == "" {
		return esgf.CompressorForPath(key), nil
	}
	return esgf.ParseCompressor(name)
}

func openStore(ctx context.Context, cfg *config.Config, loc esgf.Location) (esgf.Store, error) {
	if loc.Scheme != "s3" {
		return esgf.NewFS(loc.Dir)
	}

	client, err := s3client.NewClient(ctx, s3client.ClientConfig{
		Region:       cfg.S3.Region,
		Endpoint:     cfg.S3.Endpoint,
		UsePathStyle: cfg.S3.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	store, err := esgfs3.New(client, esgfs3.Config{Bucket: loc.Bucket, Prefix: loc.Dir})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func convert(ctx context.Context, cmd *cobra.Command, cfg *config.Config, d *esgf.Driver, from string) (esgf.RunStats, error) {
	loc, err := esgf.ParseLocation(from)
	if err != nil {
		return esgf.RunStats{}, err
	}
	if loc.IsStdio() {
		return d.Convert(ctx, cmd.InOrStdin())
	}

	store, err := openStore(ctx, cfg, loc)
	if err != nil {
		return esgf.RunStats{}, err
	}
	src, err := esgf.OpenSource(ctx, store, loc.Key)
	if err != nil {
		return esgf.RunStats{}, fmt.Errorf("open %s: %w", loc, err)
	}
	defer src.Close()
	return d.Convert(ctx, src)
}

func writeMetrics(logger *zap.Logger, m *metrics.Metrics, path string) {
	if path == "" {
		return
	}
	if err := m.WriteFile(path); err != nil {
		logger.Warn("write metrics", zap.String("path", path), zap.Error(err))
	}
}
