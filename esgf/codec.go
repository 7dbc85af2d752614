package esgf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

const maxScanTokenSize = 10 * 1024 * 1024 // 10MB

// -----------------------------------------------------------------------------
// JSONL Codec
// -----------------------------------------------------------------------------

// jsonlCodec implements Codec using JSON Lines format.
type jsonlCodec struct{}

// NewJSONLCodec creates a JSONL (JSON Lines) codec.
//
// Each record is serialized as a single line of JSON. Decoded lines are
// returned as Record values with their field order intact.
func NewJSONLCodec() Codec {
	return &jsonlCodec{}
}

func (j *jsonlCodec) Name() string {
	return "jsonl"
}

func (j *jsonlCodec) Encode(w io.Writer, records []any) error {
	enc := jsonCodec.NewEncoder(w)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	return nil
}

func (j *jsonlCodec) Decode(r io.Reader) ([]any, error) {
	var records []any
	scanner := NewRecordScanner(r)
	for scanner.Next() {
		records = append(records, scanner.Record())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// -----------------------------------------------------------------------------
// Record scanner
// -----------------------------------------------------------------------------

// RecordScanner streams records from JSON Lines input, such as the output of
// the json format. Blank lines are skipped.
type RecordScanner struct {
	scanner *bufio.Scanner
	line    int
	record  Record
	err     error
}

// NewRecordScanner returns a scanner reading JSON Lines from r.
func NewRecordScanner(r io.Reader) *RecordScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)
	return &RecordScanner{scanner: scanner}
}

// Next advances to the next record.
func (s *RecordScanner) Next() bool {
	if s.err != nil {
		return false
	}
	for s.scanner.Scan() {
		s.line++
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		iter := jsoniter.ParseBytes(recordJSON, line)
		rec, err := decodeRecord(iter)
		if err != nil {
			s.err = fmt.Errorf("line %d: %w", s.line, err)
			return false
		}
		s.record = rec
		return true
	}
	s.err = s.scanner.Err()
	return false
}

// Record returns the current record.
func (s *RecordScanner) Record() Record {
	return s.record
}

// Err returns the error that stopped scanning, if any.
func (s *RecordScanner) Err() error {
	return s.err
}

// Close is a no-op; it lets RecordScanner satisfy RecordIterator.
func (s *RecordScanner) Close() error {
	return nil
}

var _ RecordIterator = (*RecordScanner)(nil)
