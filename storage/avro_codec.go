package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"

	"autoprice/models"
)

const avroNamespace = "autoprice"

// AvroCodec is the binary encoding: an object container file with an
// embedded schema, deflate-compressed.
type AvroCodec struct{}

func (AvroCodec) Ext() string { return "avro" }

func (AvroCodec) KeepsRecordedAt() bool { return true }

// AvroSchema renders the record schema for a field table.
func AvroSchema(name string, fields []Field) (string, error) {
	type avroField struct {
		Name    string `json:"name"`
		Type    any    `json:"type"`
		Default any    `json:"default,omitempty"`
	}
	out := make([]avroField, 0, len(fields))
	for _, f := range fields {
		af := avroField{Name: f.Name, Type: avroType(f.Type)}
		if f.Nullable {
			af.Type = []any{"null", af.Type}
		}
		out = append(out, af)
	}
	b, err := json.Marshal(map[string]any{
		"type":      "record",
		"name":      name,
		"namespace": avroNamespace,
		"fields":    out,
	})
	if err != nil {
		return "", fmt.Errorf("avro: schema %s: %w", name, err)
	}
	return string(b), nil
}

func avroType(t FieldType) any {
	switch t {
	case FieldFloat:
		return "double"
	case FieldInt:
		return "int"
	case FieldBool:
		return "boolean"
	case FieldOptions:
		return map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "record",
				"name": "LineOption",
				"fields": []map[string]any{
					{"name": "code", "type": "string"},
					{"name": "description", "type": "string"},
					{"name": "type", "type": "string"},
					{"name": "included", "type": "boolean"},
					{"name": "net_list_price", "type": "double"},
					{"name": "gross_list_price", "type": "double"},
				},
			},
		}
	}
	// strings and timestamps
	return "string"
}

func (AvroCodec) Write(w io.Writer, name string, fields []Field, rows []Row) error {
	schema, err := AvroSchema(name, fields)
	if err != nil {
		return err
	}
	enc, err := ocf.NewEncoder(schema, w, ocf.WithCodec(ocf.Deflate))
	if err != nil {
		return fmt.Errorf("avro: new encoder: %w", err)
	}
	for _, row := range rows {
		rec := make(map[string]any, len(fields))
		for _, f := range fields {
			rec[f.Name] = toAvro(f, row[f.Name])
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("avro: encode: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("avro: close: %w", err)
	}
	return nil
}

func toAvro(f Field, v any) any {
	switch f.Type {
	case FieldFloat:
		x, _ := v.(float64)
		return x
	case FieldInt:
		x, _ := v.(int)
		return x
	case FieldBool:
		x, _ := v.(bool)
		return x
	case FieldTime:
		x, _ := v.(time.Time)
		if x.IsZero() && f.Nullable {
			return nil
		}
		return FormatTimestamp(x)
	case FieldOptions:
		opts, _ := v.([]models.LineOption)
		out := make([]any, 0, len(opts))
		for _, o := range opts {
			out = append(out, map[string]any{
				"code":             o.Code,
				"description":      o.Description,
				"type":             o.Type,
				"included":         o.Included,
				"net_list_price":   o.NetListPrice,
				"gross_list_price": o.GrossListPrice,
			})
		}
		return out
	}
	s, _ := v.(string)
	return s
}

func (AvroCodec) Read(r io.Reader, fields []Field) ([]Row, error) {
	dec, err := ocf.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: avro header: %w", ErrMalformedSnapshot, err)
	}

	present, err := writerFields(dec.Metadata())
	if err != nil {
		return nil, err
	}
	if err := checkIdentity(fields, func(name string) bool { return present[name] }); err != nil {
		return nil, err
	}

	var rows []Row
	for dec.HasNext() {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%w: avro decode: %w", ErrMalformedSnapshot, err)
		}
		row := make(Row, len(fields))
		for _, f := range fields {
			raw, ok := rec[f.Name]
			if !ok {
				row[f.Name] = zeroValue(f.Type)
				continue
			}
			v, err := fromAvro(f, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: avro field %s: %w", ErrMalformedSnapshot, f.Name, err)
			}
			row[f.Name] = v
		}
		rows = append(rows, row)
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("%w: avro read: %w", ErrMalformedSnapshot, err)
	}
	return rows, nil
}

// writerFields lists the top-level field names of the file's embedded schema.
func writerFields(meta map[string][]byte) (map[string]bool, error) {
	schema, err := avro.Parse(string(meta["avro.schema"]))
	if err != nil {
		return nil, fmt.Errorf("%w: avro schema: %w", ErrMalformedSnapshot, err)
	}
	rec, ok := schema.(*avro.RecordSchema)
	if !ok {
		return nil, fmt.Errorf("%w: avro schema is %s, want record", ErrMalformedSnapshot, schema.Type())
	}
	out := make(map[string]bool, len(rec.Fields()))
	for _, f := range rec.Fields() {
		out[f.Name()] = true
	}
	return out, nil
}

// unwrapUnion turns a decoded union value ({"string": "x"}) into its member.
func unwrapUnion(v any) any {
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		for _, inner := range m {
			return inner
		}
	}
	return v
}

func fromAvro(f Field, raw any) (any, error) {
	if f.Type != FieldOptions {
		raw = unwrapUnion(raw)
	}
	if raw == nil {
		return zeroValue(f.Type), nil
	}
	switch f.Type {
	case FieldFloat:
		return toFloat(raw)
	case FieldInt:
		x, err := toFloat(raw)
		return int(x), err
	case FieldBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("want boolean, got %T", raw)
		}
		return b, nil
	case FieldTime:
		switch t := raw.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			return ParseTimestamp(t)
		}
		return nil, fmt.Errorf("want timestamp string, got %T", raw)
	case FieldOptions:
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("want array, got %T", raw)
		}
		if len(items) == 0 {
			return []models.LineOption(nil), nil
		}
		opts := make([]models.LineOption, 0, len(items))
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("want option record, got %T", item)
			}
			o := models.LineOption{}
			o.Code, _ = m["code"].(string)
			o.Description, _ = m["description"].(string)
			o.Type, _ = m["type"].(string)
			o.Included, _ = m["included"].(bool)
			o.NetListPrice, _ = toFloat(m["net_list_price"])
			o.GrossListPrice, _ = toFloat(m["gross_list_price"])
			opts = append(opts, o)
		}
		return opts, nil
	}
	s, ok := raw.(string)
	if !ok {
		return fmt.Sprint(raw), nil
	}
	return s, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("want number, got %T", v)
}
