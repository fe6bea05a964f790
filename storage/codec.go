package storage

import (
	"fmt"
	"io"
	"strings"
)

// Format selects the on-disk encoding of a snapshot.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatAvro Format = "avro"
	FormatDual Format = "dual"
)

// ParseFormat accepts csv, avro or dual in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatAvro, FormatDual:
		return f, nil
	case "":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("storage: unknown file type %q (want csv, avro or dual)", s)
}

// Codec reads and writes one encoding of a record set.
type Codec interface {
	// Ext is the file extension, without the dot.
	Ext() string
	Write(w io.Writer, name string, fields []Field, rows []Row) error
	Read(r io.Reader, fields []Field) ([]Row, error)
	// KeepsRecordedAt reports whether recorded_at survives a round trip.
	// When false, readers re-derive it from the directory key.
	KeepsRecordedAt() bool
}

// codecsFor returns the codecs to write, in write order, and to read, in
// preference order, for a format.
func codecsFor(f Format) (write []Codec, read []Codec) {
	csv, avro := CSVCodec{}, AvroCodec{}
	switch f {
	case FormatAvro:
		return []Codec{avro}, []Codec{avro, csv}
	case FormatDual:
		return []Codec{avro, csv}, []Codec{avro, csv}
	default:
		return []Codec{csv}, []Codec{csv, avro}
	}
}
