package esgf

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// RunStats summarizes one driver run.
type RunStats struct {
	// Queries is the number of queries executed.
	Queries int

	// Records is the number of records passed to the formatter.
	Records int

	// Entries is the number of merged manifest entries, or zero for
	// formats that do not merge.
	Entries int
}

// Driver runs queries through a searcher, projects every record with a
// filter and hands it to a formatter.
type Driver struct {
	Searcher  Searcher
	Filter    Filter
	Formatter Formatter

	// Stop caps the records retrieved per endpoint; NoStop disables it.
	Stop int

	// Logger receives progress events. Nil disables logging.
	Logger *zap.Logger
}

// Run executes queries in order and terminates the formatter once all of
// them succeeded. On error the formatter is left unterminated, so
// aggregating formats write nothing.
func (d *Driver) Run(ctx context.Context, queries []Query) (RunStats, error) {
	var stats RunStats
	for _, q := range queries {
		it, err := d.Searcher.Search(ctx, q, d.Stop)
		if err != nil {
			return stats, fmt.Errorf("esgf: search %s: %w", q, err)
		}
		n, err := d.consume(ctx, it)
		stats.Records += n
		if err != nil {
			return stats, fmt.Errorf("esgf: search %s: %w", q, err)
		}
		stats.Queries++
	}
	return d.finish(stats)
}

// Convert formats records previously saved as JSON lines, without any
// network activity.
func (d *Driver) Convert(ctx context.Context, r io.Reader) (RunStats, error) {
	var stats RunStats
	n, err := d.consume(ctx, NewRecordScanner(r))
	stats.Records = n
	if err != nil {
		return stats, fmt.Errorf("esgf: convert: %w", err)
	}
	return d.finish(stats)
}

func (d *Driver) consume(ctx context.Context, it RecordIterator) (n int, err error) {
	defer func() {
		if cerr := it.Close(); err == nil {
			err = cerr
		}
	}()

	for it.Next() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		r, err := d.filter().Apply(it.Record())
		if err != nil {
			return n, err
		}
		if err := d.Formatter.Dump(r); err != nil {
			return n, err
		}
		n++
	}
	return n, it.Err()
}

func (d *Driver) finish(stats RunStats) (RunStats, error) {
	if err := d.Formatter.Terminate(); err != nil {
		return stats, fmt.Errorf("esgf: write output: %w", err)
	}
	if m, ok := d.Formatter.(interface{ Entries() []ManifestEntry }); ok {
		stats.Entries = len(m.Entries())
	}
	d.logger().Info("run done",
		zap.Int("queries", stats.Queries),
		zap.Int("records", stats.Records),
		zap.Int("entries", stats.Entries))
	return stats, nil
}

func (d *Driver) filter() Filter {
	if d.Filter == nil {
		return IdentityFilter{}
	}
	return d.Filter
}

func (d *Driver) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
