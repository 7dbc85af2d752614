package esgf

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"
)

// ManifestEntry is one logical file: every HTTP URL of its parts, its
// checksum and its relative output path.
type ManifestEntry struct {
	ID           string
	URLs         []string
	Checksum     string
	ChecksumType string
	Out          string
}

// manifestStore merges records by normalized instance identifier, keeping
// first-seen order. It has a single writer: the formatter that owns it.
type manifestStore struct {
	index   map[string]int
	entries []*ManifestEntry
}

func newManifestStore() *manifestStore {
	return &manifestStore{index: make(map[string]int)}
}

// add merges r into the store. Every part must carry a checksum; the first
// record of a key fixes the stored checksum and output path, later parts only
// contribute URLs.
func (s *manifestStore) add(r Record) error {
	title, err := requiredField(r, "title")
	if err != nil {
		return err
	}
	instanceID, err := requiredField(r, "instance_id")
	if err != nil {
		return err
	}
	id, err := NormalizeInstanceID(instanceID, title)
	if err != nil {
		return err
	}

	var urls []string
	if entries, ok := r.Strings("url"); ok {
		urls = HTTPURLs(entries)
	}

	checksum, err := requiredField(r, "checksum")
	if err != nil {
		return err
	}
	checksumType, err := requiredField(r, "checksum_type")
	if err != nil {
		return err
	}

	if i, ok := s.index[id]; ok {
		s.entries[i].URLs = append(s.entries[i].URLs, urls...)
		return nil
	}
	s.index[id] = len(s.entries)
	s.entries = append(s.entries, &ManifestEntry{
		ID:           id,
		URLs:         urls,
		Checksum:     checksum,
		ChecksumType: NormalizeChecksumType(checksumType),
		Out:          OutputPath(id),
	})
	return nil
}

func requiredField(r Record, name string) (string, error) {
	v, ok := r.First(name)
	if !ok {
		id, _ := r.First("instance_id")
		return "", fmt.Errorf("%w %q in record %q", ErrMissingField, name, id)
	}
	return v, nil
}

// manifest is the accumulation shared by the manifest formatters.
type manifest struct {
	store      *manifestStore
	terminated bool
}

func (m *manifest) Dump(r Record) error {
	if m.terminated {
		return ErrTerminated
	}
	return m.store.add(r)
}

// Entries returns the merged entries in first-seen order.
func (m *manifest) Entries() []ManifestEntry {
	out := make([]ManifestEntry, len(m.store.entries))
	for i, e := range m.store.entries {
		out[i] = *e
		out[i].URLs = append([]string(nil), e.URLs...)
	}
	return out
}

func (m *manifest) finish() error {
	if m.terminated {
		return ErrTerminated
	}
	m.terminated = true
	return nil
}

// -----------------------------------------------------------------------------
// aria2c
// -----------------------------------------------------------------------------

// Aria2cFormatter writes an aria2c input file: one tab-separated URL line
// per entry followed by checksum and out options.
type Aria2cFormatter struct {
	manifest
	w io.Writer
}

// NewAria2cFormatter creates an aria2c input file formatter.
func NewAria2cFormatter(w io.Writer) *Aria2cFormatter {
	return &Aria2cFormatter{manifest: manifest{store: newManifestStore()}, w: w}
}

func (f *Aria2cFormatter) Terminate() error {
	if err := f.finish(); err != nil {
		return err
	}
	bw := bufio.NewWriter(f.w)
	for _, e := range f.store.entries {
		fmt.Fprintln(bw, strings.Join(e.URLs, "\t"))
		fmt.Fprintf(bw, "  checksum=%s=%s\n", e.ChecksumType, e.Checksum)
		fmt.Fprintf(bw, "  out=%s\n", e.Out)
	}
	return bw.Flush()
}

// -----------------------------------------------------------------------------
// Metalink 4
// -----------------------------------------------------------------------------

const metalinkNamespace = "urn:ietf:params:xml:ns:metalink"

type metalinkFile struct {
	XMLName xml.Name      `xml:"file"`
	Name    string        `xml:"name,attr"`
	Hash    metalinkHash  `xml:"hash"`
	URLs    []metalinkURL `xml:"url"`
}

type metalinkHash struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type metalinkURL struct {
	Priority int    `xml:"priority,attr"`
	Value    string `xml:",chardata"`
}

// MetalinkFormatter writes a Metalink 4 (RFC 5854) document. With flat set,
// file names are reduced to their base name.
type MetalinkFormatter struct {
	manifest
	w    io.Writer
	flat bool
}

// NewMetalinkFormatter creates a Metalink 4 formatter.
func NewMetalinkFormatter(w io.Writer, flat bool) *MetalinkFormatter {
	return &MetalinkFormatter{manifest: manifest{store: newManifestStore()}, w: w, flat: flat}
}

func (f *MetalinkFormatter) Terminate() error {
	if err := f.finish(); err != nil {
		return err
	}
	bw := bufio.NewWriter(f.w)
	if _, err := bw.WriteString(xml.Header); err != nil {
		return err
	}

	enc := xml.NewEncoder(bw)
	enc.Indent("", "  ")
	root := xml.StartElement{
		Name: xml.Name{Local: "metalink"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: metalinkNamespace}},
	}
	if err := enc.EncodeToken(root); err != nil {
		return err
	}
	for _, e := range f.store.entries {
		name := e.Out
		if f.flat {
			name = path.Base(e.Out)
		}
		file := metalinkFile{
			Name: name,
			Hash: metalinkHash{Type: e.ChecksumType, Value: e.Checksum},
		}
		for _, u := range e.URLs {
			file.URLs = append(file.URLs, metalinkURL{Priority: 1, Value: u})
		}
		if err := enc.Encode(file); err != nil {
			return err
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}

// -----------------------------------------------------------------------------
// Parquet
// -----------------------------------------------------------------------------

// ManifestSchema is the column layout of Parquet manifests. Decode them with
// NewParquetCodec(ManifestSchema).
var ManifestSchema = ParquetSchema{Fields: []ParquetField{
	{Name: "instance_id", Type: ParquetString},
	{Name: "file_name", Type: ParquetString},
	{Name: "checksum_type", Type: ParquetString},
	{Name: "checksum", Type: ParquetString},
	{Name: "urls", Type: ParquetString},
	{Name: "url_count", Type: ParquetInt64},
}}

// ParquetFormatter writes the manifest as a Parquet file, one row per
// entry, URLs tab-separated.
type ParquetFormatter struct {
	manifest
	w     io.Writer
	codec Codec
}

// NewParquetFormatter creates a Parquet manifest formatter.
func NewParquetFormatter(w io.Writer) (*ParquetFormatter, error) {
	codec, err := NewParquetCodec(ManifestSchema)
	if err != nil {
		return nil, err
	}
	return &ParquetFormatter{manifest: manifest{store: newManifestStore()}, w: w, codec: codec}, nil
}

func (f *ParquetFormatter) Terminate() error {
	if err := f.finish(); err != nil {
		return err
	}
	rows := make([]any, len(f.store.entries))
	for i, e := range f.store.entries {
		rows[i] = map[string]any{
			"instance_id":   e.ID,
			"file_name":     e.Out,
			"checksum_type": e.ChecksumType,
			"checksum":      e.Checksum,
			"urls":          strings.Join(e.URLs, "\t"),
			"url_count":     len(e.URLs),
		}
	}
	return f.codec.Encode(f.w, rows)
}

var (
	_ Formatter = (*Aria2cFormatter)(nil)
	_ Formatter = (*MetalinkFormatter)(nil)
	_ Formatter = (*ParquetFormatter)(nil)
)
