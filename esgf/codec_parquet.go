package esgf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// Errors returned by the Parquet codec.
var (
	// ErrSchemaViolation indicates a record that does not match the codec schema.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrInvalidFormat indicates input that is not a readable Parquet file.
	ErrInvalidFormat = errors.New("invalid format")
)

// ParquetType enumerates the column types of manifest exports.
type ParquetType int

// Parquet column types.
const (
	ParquetString ParquetType = iota
	ParquetInt64
	ParquetBool
	parquetTypeMax
)

// ParquetField defines a single column.
type ParquetField struct {
	Name     string
	Type     ParquetType
	Nullable bool
}

// ParquetSchema defines the row structure for Parquet encoding.
type ParquetSchema struct {
	Fields []ParquetField
}

// ParquetCompression specifies internal Parquet page compression.
type ParquetCompression int

// Parquet compression options.
const (
	ParquetCompressionNone ParquetCompression = iota
	ParquetCompressionSnappy
	ParquetCompressionGzip
)

// ParquetOption configures the Parquet codec.
type ParquetOption func(*parquetCodec)

// WithParquetCompression sets internal Parquet compression. Default: Snappy.
func WithParquetCompression(codec ParquetCompression) ParquetOption {
	return func(c *parquetCodec) {
		c.compression = codec
	}
}

// parquetRowBatch is the number of rows moved per ReadRows/WriteRows call.
const parquetRowBatch = 256

// maxExactFloat is the largest integer a float64 holds exactly.
const maxExactFloat = 1 << 53

// parquetColumn is one leaf column in schema order.
type parquetColumn struct {
	ParquetField
	index int
}

type parquetCodec struct {
	schema      *parquet.Schema
	columns     []parquetColumn
	compression ParquetCompression
}

// NewParquetCodec creates a Parquet codec for schema.
//
// Encode takes map[string]any records; keys outside the schema are ignored.
// Decode returns map[string]any records with string, int64 and bool values.
func NewParquetCodec(schema ParquetSchema, opts ...ParquetOption) (Codec, error) {
	byName := make(map[string]ParquetField, len(schema.Fields))
	group := make(parquet.Group, len(schema.Fields))
	for _, f := range schema.Fields {
		switch {
		case f.Name == "":
			return nil, fmt.Errorf("%w: field name cannot be empty", ErrSchemaViolation)
		case f.Type < 0 || f.Type >= parquetTypeMax:
			return nil, fmt.Errorf("%w: field %q has unknown type %d", ErrSchemaViolation, f.Name, f.Type)
		}
		if _, dup := byName[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field name %q", ErrSchemaViolation, f.Name)
		}
		byName[f.Name] = f
		group[f.Name] = parquetNode(f)
	}

	c := &parquetCodec{
		schema:      parquet.NewSchema("entry", group),
		compression: ParquetCompressionSnappy,
	}
	// The built schema orders columns by name; rows follow that order.
	for i, f := range c.schema.Fields() {
		c.columns = append(c.columns, parquetColumn{ParquetField: byName[f.Name()], index: i})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parquetNode(f ParquetField) parquet.Node {
	var node parquet.Node
	switch f.Type {
	case ParquetInt64:
		node = parquet.Int(64)
	case ParquetBool:
		node = parquet.Leaf(parquet.BooleanType)
	default:
		node = parquet.String()
	}
	if f.Nullable {
		return parquet.Optional(node)
	}
	return node
}

func (c *parquetCodec) Name() string {
	return "parquet"
}

// Encode writes records as a single Parquet file. The footer is written on
// close, so the file in w is complete only when Encode returns nil.
func (c *parquetCodec) Encode(w io.Writer, records []any) error {
	pw := parquet.NewWriter(w, c.schema, parquet.Compression(c.pageCodec()))

	batch := make([]parquet.Row, 0, parquetRowBatch)
	flush := func() error {
		if _, err := pw.WriteRows(batch); err != nil {
			return fmt.Errorf("parquet: write rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	for i, rec := range records {
		row, err := c.row(rec, i)
		if err != nil {
			_ = pw.Close()
			return err
		}
		if batch = append(batch, row); len(batch) == cap(batch) {
			if err := flush(); err != nil {
				_ = pw.Close()
				return err
			}
		}
	}
	if err := flush(); err != nil {
		_ = pw.Close()
		return err
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("parquet: close writer: %w", err)
	}
	return nil
}

// Decode reads a whole Parquet file. Parquet needs random access to its
// footer, so r is read into memory first.
func (c *parquetCodec) Decode(r io.Reader) ([]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("parquet: read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidFormat)
	}
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	records := make([]any, 0, file.NumRows())
	if file.NumRows() == 0 {
		return records, nil
	}
	pr := parquet.NewReader(file)
	defer func() { _ = pr.Close() }()

	rows := make([]parquet.Row, parquetRowBatch)
	for {
		n, err := pr.ReadRows(rows)
		for _, row := range rows[:n] {
			records = append(records, c.record(row))
		}
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read rows: %w", ErrInvalidFormat, err)
		}
	}
}

func (c *parquetCodec) pageCodec() compress.Codec {
	switch c.compression {
	case ParquetCompressionSnappy:
		return &parquet.Snappy
	case ParquetCompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

func (c *parquetCodec) row(rec any, n int) (parquet.Row, error) {
	m, ok := rec.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: record %d is %T, want map[string]any", ErrSchemaViolation, n, rec)
	}

	row := make(parquet.Row, len(c.columns))
	for _, col := range c.columns {
		v := m[col.Name]
		if v == nil {
			if !col.Nullable {
				return nil, fmt.Errorf("%w: record %d missing required field %q", ErrSchemaViolation, n, col.Name)
			}
			row[col.index] = parquet.NullValue().Level(0, 0, col.index)
			continue
		}
		pv, err := col.value(v)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d field %q: %w", ErrSchemaViolation, n, col.Name, err)
		}
		def := 0
		if col.Nullable {
			def = 1
		}
		row[col.index] = pv.Level(0, def, col.index)
	}
	return row, nil
}

func (col parquetColumn) value(v any) (parquet.Value, error) {
	switch col.Type {
	case ParquetString:
		if s, ok := v.(string); ok {
			return parquet.ByteArrayValue([]byte(s)), nil
		}
	case ParquetBool:
		if b, ok := v.(bool); ok {
			return parquet.BooleanValue(b), nil
		}
	case ParquetInt64:
		switch n := v.(type) {
		case int:
			return parquet.Int64Value(int64(n)), nil
		case int64:
			return parquet.Int64Value(n), nil
		case float64:
			if n != math.Trunc(n) || math.Abs(n) > maxExactFloat {
				return parquet.Value{}, fmt.Errorf("%v is not an exact integer", n)
			}
			return parquet.Int64Value(int64(n)), nil
		}
	}
	return parquet.Value{}, fmt.Errorf("unexpected %T", v)
}

func (c *parquetCodec) record(row parquet.Row) map[string]any {
	rec := make(map[string]any, len(c.columns))
	for _, col := range c.columns {
		if col.index >= len(row) || row[col.index].IsNull() {
			rec[col.Name] = nil
			continue
		}
		v := row[col.index]
		switch col.Type {
		case ParquetString:
			rec[col.Name] = string(v.ByteArray())
		case ParquetInt64:
			rec[col.Name] = v.Int64()
		case ParquetBool:
			rec[col.Name] = v.Boolean()
		}
	}
	return rec
}
