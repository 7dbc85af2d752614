package esgf

import (
	"bufio"
	"io"
	"strings"
)

// serviceColumns lead every CSV header. URL entries are spread over these
// columns by service type.
var serviceColumns = []string{"HTTPServer", "GridFTP", "OPENDAP"}

// joinedListProject is the project whose list fields are written in full,
// comma-joined, rather than reduced to their first element.
const joinedListProject = "cmip5"

// CSVFormatter writes one quoted CSV row per record.
//
// The columns are fixed by the first record: the service columns followed
// by that record's fields. Later records are written against the same
// columns; fields they lack become empty cells and extra fields are
// dropped.
type CSVFormatter struct {
	w          *bufio.Writer
	columns    []string
	terminated bool
}

// NewCSVFormatter creates a CSV formatter.
func NewCSVFormatter(w io.Writer) *CSVFormatter {
	return &CSVFormatter{w: bufio.NewWriter(w)}
}

// Columns returns the header, or nil before the first record.
func (f *CSVFormatter) Columns() []string {
	return append([]string(nil), f.columns...)
}

func (f *CSVFormatter) Dump(r Record) error {
	if f.terminated {
		return ErrTerminated
	}
	if f.columns == nil {
		f.columns = csvColumns(r)
		if err := f.writeRow(f.columns); err != nil {
			return err
		}
	}
	return f.writeRow(f.row(r))
}

func (f *CSVFormatter) Terminate() error {
	if f.terminated {
		return ErrTerminated
	}
	f.terminated = true
	return f.w.Flush()
}

func csvColumns(r Record) []string {
	columns := append([]string(nil), serviceColumns...)
	seen := make(map[string]bool, len(columns)+r.Len())
	for _, c := range columns {
		seen[c] = true
	}
	for _, k := range r.Keys() {
		if !seen[k] {
			seen[k] = true
			columns = append(columns, k)
		}
	}
	return columns
}

func (f *CSVFormatter) row(r Record) []string {
	joinLists := false
	if project, ok := r.First("project"); ok {
		joinLists = strings.EqualFold(project, joinedListProject)
	}

	values := make(map[string]string, len(f.columns))
	for _, c := range f.columns {
		v, ok := r.Get(c)
		if !ok {
			continue
		}
		if list, isList := v.([]any); isList && !joinLists {
			if len(list) > 0 {
				values[c] = csvCell(list[0])
			}
			continue
		}
		values[c] = csvCell(v)
	}

	if entries, ok := r.Strings("url"); ok {
		for _, e := range entries {
			location, service := splitURLEntry(e)
			values[service] = location
		}
	}

	row := make([]string, len(f.columns))
	for i, c := range f.columns {
		row[i] = values[c]
	}
	return row
}

func (f *CSVFormatter) writeRow(cells []string) error {
	for i, c := range cells {
		if i > 0 {
			if err := f.w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := f.w.WriteString(csvQuote(c)); err != nil {
			return err
		}
	}
	return f.w.WriteByte('\n')
}

// csvCell renders one field value. Booleans and null are written as True,
// False and None.
func csvCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	}
	return scalarString(v)
}

// csvQuote wraps v in double quotes after removing any double quotes it
// contains.
func csvQuote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, "") + `"`
}

var _ Formatter = (*CSVFormatter)(nil)
