// Package esgf retrieves complete result sets from the federated ESGF search
// service and converts the returned records into download manifests.
//
// The package covers pagination against one index node, federation across
// the known index nodes, facet projection of records, and the formatters that
// turn records into JSON lines, CSV, aria2c input files or Metalink 4
// documents. It does not download or verify files.
package esgf

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// -----------------------------------------------------------------------------
// Core constants
// -----------------------------------------------------------------------------

// MaxPageSize is the largest limit requested from an index node. The service
// accepts up to 10000 but fails intermittently near that bound.
const MaxPageSize = 9000

// NoStop disables the per-endpoint result cap.
const NoStop = -1

// SearchPath is the search handler path on every index node.
const SearchPath = "/esg-search/search"

// solrFormat is the response format requested from the search handler.
const solrFormat = "application/solr+json"

// DefaultIndexNodes lists the known index nodes in declaration order. The
// first node is the federation entry point.
var DefaultIndexNodes = []string{
	"esgf-node.llnl.gov",
	"esgf-data.dkrz.de",
	"esgf.nci.org.au",
	"esg-dn1.nsc.liu.se",
	"esgf-index1.ceda.ac.uk",
	"esgf-node.ipsl.upmc.fr",
}

// -----------------------------------------------------------------------------
// Endpoint
// -----------------------------------------------------------------------------

// Endpoint is the base URL of one index node's search handler.
type Endpoint string

// NodeEndpoint returns the search endpoint for an index node host.
func NodeEndpoint(host string) Endpoint {
	return Endpoint("https://" + host + SearchPath)
}

// NodeEndpoints returns the search endpoints for hosts, in order.
func NodeEndpoints(hosts []string) []Endpoint {
	endpoints := make([]Endpoint, len(hosts))
	for i, h := range hosts {
		endpoints[i] = NodeEndpoint(h)
	}
	return endpoints
}

// -----------------------------------------------------------------------------
// Iteration
// -----------------------------------------------------------------------------

// RecordIterator is a finite, forward-only, single-pass record sequence.
//
// Next advances to the next record and reports whether one is available.
// After Next returns false, Err reports the error that ended iteration, if
// any. Close releases the resources held by the iterator and is safe to call
// more than once.
type RecordIterator interface {
	Next() bool
	Record() Record
	Err() error
	Close() error
}

// Searcher produces the record sequence for one query.
type Searcher interface {
	Search(ctx context.Context, q Query, stop int) (RecordIterator, error)
}

// -----------------------------------------------------------------------------
// Filter and Formatter contracts
// -----------------------------------------------------------------------------

// Filter projects a record before it is formatted.
type Filter interface {
	// Name returns the filter identifier (for example, "cmip6" or "facets").
	Name() string

	// Apply returns the projected record.
	Apply(r Record) (Record, error)
}

// Formatter consumes records one at a time and writes formatted output.
//
// The lifecycle is Dump zero or more times followed by exactly one
// Terminate. Formatters are not safe for concurrent use.
type Formatter interface {
	// Dump consumes one record.
	Dump(r Record) error

	// Terminate writes any accumulated output. It must be called once.
	Terminate() error
}

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store abstracts where formatted output is written and where saved output
// is read from.
//
// Implementations target the local filesystem, memory and S3.
type Store interface {
	// Put writes data to the given path.
	Put(ctx context.Context, path string, r io.Reader) error

	// Get retrieves data from the given path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists checks whether a path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the path if it exists.
	Delete(ctx context.Context, path string) error
}

// -----------------------------------------------------------------------------
// Codec interface
// -----------------------------------------------------------------------------

// Codec handles batch serialization of records.
type Codec interface {
	// Name returns the codec identifier (for example, "jsonl" or "parquet").
	Name() string

	// Encode writes records to the given writer.
	Encode(w io.Writer, records []any) error

	// Decode reads records from the given reader.
	Decode(r io.Reader) ([]any, error)
}

// -----------------------------------------------------------------------------
// Compressor interface
// -----------------------------------------------------------------------------

// Compressor handles compression and decompression of data streams.
type Compressor interface {
	// Name returns the compressor identifier (for example, "gzip", "zstd", "noop").
	Name() string

	// Extension returns the file extension (for example, ".gz", ".zst", "").
	Extension() string

	// Compress wraps a writer with compression.
	Compress(w io.Writer) (io.WriteCloser, error)

	// Decompress wraps a reader with decompression.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Configuration errors. These are detected before any network activity.
var (
	// ErrUnknownFormat indicates an output format name that is not supported.
	ErrUnknownFormat = errors.New("unknown format")

	// ErrUnknownCompressor indicates a compressor name that is not supported.
	ErrUnknownCompressor = errors.New("unknown compressor")

	// ErrMalformedQuery indicates a query token without a key=value separator.
	ErrMalformedQuery = errors.New("malformed query")
)

// Record and response contract errors.
var (
	// ErrMissingFacet indicates a projected facet absent from a record.
	ErrMissingFacet = errors.New("missing facet")

	// ErrMissingField indicates a record lacks a field a formatter requires.
	ErrMissingField = errors.New("missing required field")

	// ErrMalformedRecord indicates a record field has an unusable shape.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrResponseContract indicates a search response without the expected envelope.
	ErrResponseContract = errors.New("unexpected search response")

	// ErrShortResult indicates an index node served fewer records than it reported.
	ErrShortResult = errors.New("short result")

	// ErrTerminated indicates use of a formatter after Terminate.
	ErrTerminated = errors.New("formatter terminated")
)

// Storage errors.
var (
	// ErrNotFound indicates a requested path does not exist.
	ErrNotFound = errNotFound{}

	// ErrPathExists indicates an attempt to write to an existing path.
	ErrPathExists = errPathExists{}

	// ErrInvalidPath indicates a path that would escape the storage root.
	ErrInvalidPath = errors.New("invalid path: escapes storage root")
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errPathExists struct{}

func (errPathExists) Error() string { return "path exists" }

// HTTPError reports a non-success status from an index node.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("search request %s: status %d", e.URL, e.StatusCode)
}
