package esgf

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// compressor is a Compressor described by its stream constructors.
type compressor struct {
	name       string
	ext        string
	aliases    []string
	compress   func(io.Writer) (io.WriteCloser, error)
	decompress func(io.Reader) (io.ReadCloser, error)
}

func (c *compressor) Name() string      { return c.name }
func (c *compressor) Extension() string { return c.ext }

func (c *compressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return c.compress(w)
}

func (c *compressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return c.decompress(r)
}

var (
	noopCompressor = &compressor{
		name:    "noop",
		aliases: []string{"", "none"},
		compress: func(w io.Writer) (io.WriteCloser, error) {
			return nopWriteCloser{w}, nil
		},
		decompress: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		},
	}

	gzipCompressor = &compressor{
		name:    "gzip",
		ext:     ".gz",
		aliases: []string{"gz"},
		compress: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriter(w), nil
		},
		decompress: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
	}

	zstdCompressor = &compressor{
		name:    "zstd",
		ext:     ".zst",
		aliases: []string{"zst"},
		compress: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w)
		},
		decompress: func(r io.Reader) (io.ReadCloser, error) {
			// Single-threaded decoding keeps Close the only cleanup needed.
			d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		},
	}

	compressors = []*compressor{noopCompressor, gzipCompressor, zstdCompressor}
)

// NewNoOpCompressor returns the pass-through compressor.
func NewNoOpCompressor() Compressor { return noopCompressor }

// NewGzipCompressor returns the gzip compressor.
func NewGzipCompressor() Compressor { return gzipCompressor }

// NewZstdCompressor returns the zstd compressor.
func NewZstdCompressor() Compressor { return zstdCompressor }

// ParseCompressor returns the compressor named by --compress: "gzip" ("gz"),
// "zstd" ("zst") or "noop" ("none" or empty).
func ParseCompressor(name string) (Compressor, error) {
	name = strings.ToLower(name)
	for _, c := range compressors {
		if name == c.name {
			return c, nil
		}
		for _, a := range c.aliases {
			if name == a {
				return c, nil
			}
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownCompressor, name)
}

// CompressorForPath picks the compressor whose extension ends path.
func CompressorForPath(path string) Compressor {
	for _, c := range compressors {
		if c.ext != "" && strings.HasSuffix(path, c.ext) {
			return c
		}
	}
	return noopCompressor
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
