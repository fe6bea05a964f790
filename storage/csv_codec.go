package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"autoprice/models"
)

// CSVCodec is the textual encoding: a header row followed by one row per
// record. Option lists are embedded as JSON arrays.
type CSVCodec struct{}

func (CSVCodec) Ext() string { return "csv" }

func (CSVCodec) KeepsRecordedAt() bool { return false }

func (CSVCodec) Write(w io.Writer, _ string, fields []Field, rows []Row) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	record := make([]string, len(fields))
	for _, row := range rows {
		for i, f := range fields {
			cell, err := formatCell(f, row[f.Name])
			if err != nil {
				return fmt.Errorf("csv: field %s: %w", f.Name, err)
			}
			record[i] = cell
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func (CSVCodec) Read(r io.Reader, fields []Field) ([]Row, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %w", ErrMalformedSnapshot, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	if err := checkIdentity(fields, func(name string) bool { _, ok := cols[name]; return ok }); err != nil {
		return nil, err
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d: %w", ErrMalformedSnapshot, line, err)
		}
		row := make(Row, len(fields))
		for _, f := range fields {
			idx, ok := cols[f.Name]
			if !ok {
				row[f.Name] = zeroValue(f.Type)
				continue
			}
			v, err := parseCell(f, record[idx])
			if err != nil {
				return nil, fmt.Errorf("%w: csv line %d field %s: %w", ErrMalformedSnapshot, line, f.Name, err)
			}
			row[f.Name] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func formatCell(f Field, v any) (string, error) {
	switch f.Type {
	case FieldFloat:
		x, _ := v.(float64)
		return models.FormatFloat(x), nil
	case FieldInt:
		x, _ := v.(int)
		return strconv.Itoa(x), nil
	case FieldBool:
		x, _ := v.(bool)
		return strconv.FormatBool(x), nil
	case FieldTime:
		x, _ := v.(time.Time)
		return FormatTimestamp(x), nil
	case FieldOptions:
		opts, _ := v.([]models.LineOption)
		if opts == nil {
			opts = []models.LineOption{}
		}
		b, err := json.Marshal(opts)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	s, _ := v.(string)
	return s, nil
}

func parseCell(f Field, cell string) (any, error) {
	trimmed := strings.TrimSpace(cell)
	switch f.Type {
	case FieldFloat:
		if trimmed == "" {
			return float64(0), nil
		}
		return strconv.ParseFloat(trimmed, 64)
	case FieldInt:
		if trimmed == "" {
			return 0, nil
		}
		if i, err := strconv.Atoi(trimmed); err == nil {
			return i, nil
		}
		x, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, err
		}
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("%q is not an integer", cell)
		}
		return int(x), nil
	case FieldBool:
		if trimmed == "" {
			return false, nil
		}
		return strconv.ParseBool(trimmed)
	case FieldTime:
		return ParseTimestamp(trimmed)
	case FieldOptions:
		if trimmed == "" {
			return []models.LineOption(nil), nil
		}
		var opts []models.LineOption
		if err := json.Unmarshal([]byte(trimmed), &opts); err != nil {
			return nil, err
		}
		if len(opts) == 0 {
			opts = nil
		}
		return opts, nil
	}
	return cell, nil
}
