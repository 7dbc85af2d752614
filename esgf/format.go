package esgf

import (
	"bufio"
	"fmt"
	"io"
)

// Format is an output format.
type Format int

// Output formats. The manifest formats (aria2c, meta4, meta4f, parquet)
// merge multi-part records and write everything on Terminate.
const (
	FormatJSON Format = iota
	FormatCSV
	FormatAria2c
	FormatMeta4
	FormatMeta4F
	FormatParquet
)

var formatNames = map[Format]string{
	FormatJSON:    "json",
	FormatCSV:     "csv",
	FormatAria2c:  "aria2c",
	FormatMeta4:   "meta4",
	FormatMeta4F:  "meta4f",
	FormatParquet: "parquet",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Aggregating reports whether the format merges records into manifest
// entries.
func (f Format) Aggregating() bool {
	return f >= FormatAria2c && f <= FormatParquet
}

// ParseFormat returns the format for a name. Names are case-sensitive.
func ParseFormat(name string) (Format, error) {
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownFormat, name)
}

// FormatNames lists the supported format names.
func FormatNames() []string {
	names := make([]string, 0, len(formatNames))
	for f := FormatJSON; f <= FormatParquet; f++ {
		names = append(names, formatNames[f])
	}
	return names
}

// NewFormatter creates a formatter writing to w.
func NewFormatter(f Format, w io.Writer) (Formatter, error) {
	switch f {
	case FormatJSON:
		return NewJSONFormatter(w), nil
	case FormatCSV:
		return NewCSVFormatter(w), nil
	case FormatAria2c:
		return NewAria2cFormatter(w), nil
	case FormatMeta4:
		return NewMetalinkFormatter(w, false), nil
	case FormatMeta4F:
		return NewMetalinkFormatter(w, true), nil
	case FormatParquet:
		return NewParquetFormatter(w)
	default:
		return nil, fmt.Errorf("%w %v", ErrUnknownFormat, f)
	}
}

// -----------------------------------------------------------------------------
// JSON lines
// -----------------------------------------------------------------------------

// JSONFormatter writes every record as one JSON line as soon as it arrives.
type JSONFormatter struct {
	w          *bufio.Writer
	codec      Codec
	batch      []any
	terminated bool
}

// NewJSONFormatter creates a JSON lines formatter.
func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{w: bufio.NewWriter(w), codec: NewJSONLCodec(), batch: make([]any, 1)}
}

func (f *JSONFormatter) Dump(r Record) error {
	if f.terminated {
		return ErrTerminated
	}
	f.batch[0] = r
	if err := f.codec.Encode(f.w, f.batch); err != nil {
		return err
	}
	return f.w.Flush()
}

func (f *JSONFormatter) Terminate() error {
	if f.terminated {
		return ErrTerminated
	}
	f.terminated = true
	return f.w.Flush()
}

var _ Formatter = (*JSONFormatter)(nil)
