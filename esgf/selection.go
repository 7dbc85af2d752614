package esgf

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// SelectionReader yields the queries of a selection file.
//
// A selection file holds blocks of lines separated by blank lines. Every
// whitespace-separated key=value token in a block adds one facet to the
// block's query. The last block does not need a trailing blank line.
type SelectionReader struct {
	scanner *bufio.Scanner
	line    int
	query   Query
	err     error
}

// ReadSelections returns a reader over the selection blocks in r.
func ReadSelections(r io.Reader) *SelectionReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)
	return &SelectionReader{scanner: scanner}
}

// Next advances to the next query. It returns false at end of input or on
// error; check Err afterwards.
func (s *SelectionReader) Next() bool {
	if s.err != nil {
		return false
	}
	var q Query
	for s.scanner.Scan() {
		s.line++
		text := s.scanner.Text()
		if strings.TrimSpace(text) == "" {
			if q.Len() > 0 {
				s.query = q
				return true
			}
			continue
		}
		for _, token := range strings.Fields(text) {
			var err error
			q, err = addToken(q, token)
			if err != nil {
				s.err = fmt.Errorf("line %d: %w", s.line, err)
				return false
			}
		}
	}
	if err := s.scanner.Err(); err != nil {
		s.err = err
		return false
	}
	if q.Len() > 0 {
		s.query = q
		return true
	}
	return false
}

// Query returns the current query.
func (s *SelectionReader) Query() Query {
	return s.query
}

// Err returns the first error encountered.
func (s *SelectionReader) Err() error {
	return s.err
}

// ParseSelections reads every query of a selection file.
func ParseSelections(r io.Reader) ([]Query, error) {
	var queries []Query
	sr := ReadSelections(r)
	for sr.Next() {
		queries = append(queries, sr.Query())
	}
	if err := sr.Err(); err != nil {
		return nil, err
	}
	return queries, nil
}
