package esgf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Location identifies a local file, an S3 object, or the standard streams.
type Location struct {
	// Scheme is "s3" for S3 objects, "-" for stdin/stdout and "" for local files.
	Scheme string

	// Bucket is the S3 bucket. Empty for local files.
	Bucket string

	// Dir is the store root: the parent directory of a local file, or the
	// key prefix of an S3 object.
	Dir string

	// Key is the path within the store.
	Key string
}

// IsStdio reports whether the location names the standard streams.
func (l Location) IsStdio() bool {
	return l.Scheme == "-"
}

func (l Location) String() string {
	switch l.Scheme {
	case "-":
		return "-"
	case "s3":
		return "s3://" + l.Bucket + "/" + joinKey(l.Dir, l.Key)
	default:
		return filepath.Join(l.Dir, l.Key)
	}
}

// ParseLocation parses "-", "s3://bucket/prefix/name" or a local path.
func ParseLocation(s string) (Location, error) {
	switch {
	case s == "" || s == "-":
		return Location{Scheme: "-"}, nil
	case strings.HasPrefix(s, "s3://"):
		rest := strings.TrimPrefix(s, "s3://")
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
			return Location{}, fmt.Errorf("%w: %q needs s3://bucket/key", ErrInvalidPath, s)
		}
		dir, name := "", key
		if i := strings.LastIndex(key, "/"); i >= 0 {
			dir, name = key[:i], key[i+1:]
		}
		return Location{Scheme: "s3", Bucket: bucket, Dir: dir, Key: name}, nil
	default:
		return Location{Dir: filepath.Dir(s), Key: filepath.Base(s)}, nil
	}
}

func joinKey(dir, key string) string {
	if dir == "" {
		return key
	}
	return dir + "/" + key
}

// -----------------------------------------------------------------------------
// Sink
// -----------------------------------------------------------------------------

// Sink streams written bytes into a Store object.
//
// Close flushes the compressor and waits for the store to finish the
// upload. Abort discards the object instead.
type Sink struct {
	pw   *io.PipeWriter
	cw   io.WriteCloser
	done chan error
}

// OpenSink starts writing key in store through compressor c.
func OpenSink(ctx context.Context, store Store, key string, c Compressor) (*Sink, error) {
	if c == nil {
		c = NewNoOpCompressor()
	}
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := store.Put(ctx, key, pr)
		_ = pr.CloseWithError(err)
		done <- err
	}()

	cw, err := c.Compress(pw)
	if err != nil {
		_ = pw.CloseWithError(err)
		<-done
		return nil, fmt.Errorf("esgf: open %s compressor: %w", c.Name(), err)
	}
	return &Sink{pw: pw, cw: cw, done: done}, nil
}

func (s *Sink) Write(p []byte) (int, error) {
	return s.cw.Write(p)
}

// Close completes the object.
func (s *Sink) Close() error {
	if err := s.cw.Close(); err != nil {
		_ = s.pw.CloseWithError(err)
		<-s.done
		return err
	}
	_ = s.pw.Close()
	return <-s.done
}

// Abort stops the upload; the store keeps no partial object.
func (s *Sink) Abort(cause error) error {
	if cause == nil {
		cause = io.ErrClosedPipe
	}
	_ = s.pw.CloseWithError(cause)
	err := <-s.done
	if errors.Is(err, cause) {
		return nil
	}
	return err
}

// -----------------------------------------------------------------------------
// Source
// -----------------------------------------------------------------------------

// OpenSource opens key in store, decompressing by extension.
func OpenSource(ctx context.Context, store Store, key string) (io.ReadCloser, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	dr, err := CompressorForPath(key).Decompress(rc)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("esgf: decompress %s: %w", key, err)
	}
	return &source{ReadCloser: dr, underlying: rc}, nil
}

type source struct {
	io.ReadCloser
	underlying io.Closer
}

func (s *source) Close() error {
	err := s.ReadCloser.Close()
	if uerr := s.underlying.Close(); err == nil {
		err = uerr
	}
	return err
}
