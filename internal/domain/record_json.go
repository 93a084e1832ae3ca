package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseRecordJSON decodes a record produced by CanonicalJSON. It reads the
// token stream directly so row fields keep their serialized order; a plain
// map decode would lose it.
func ParseRecordJSON(data []byte) (*NormalizedRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	rec := &NormalizedRecord{}
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		switch key {
		case "table_kind":
			if rec.TableKind, err = stringToken(dec); err != nil {
				return nil, err
			}
		case "vintage":
			if rec.Vintage, err = stringToken(dec); err != nil {
				return nil, err
			}
		case "rows":
			if rec.Rows, err = parseRows(dec); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("parse record: unexpected key %q", key)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return rec, nil
}

func parseRows(dec *json.Decoder) ([]RecordRow, error) {
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}
	var rows []RecordRow
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		var row RecordRow
		for dec.More() {
			field, err := stringToken(dec)
			if err != nil {
				return nil, err
			}
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			switch v := tok.(type) {
			case json.Number:
				f, err := v.Float64()
				if err != nil {
					return nil, fmt.Errorf("parse record: field %s: %w", field, err)
				}
				row.Values = append(row.Values, FieldValue{Field: field, Number: f, IsNumber: true})
			case string:
				row.Values = append(row.Values, FieldValue{Field: field, Text: v})
			default:
				return nil, fmt.Errorf("parse record: field %s has unsupported value %v", field, tok)
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return rows, nil
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("parse record: %w", err)
	}
	d, ok := tok.(json.Delim)
	if !ok || rune(d) != want {
		return fmt.Errorf("parse record: expected %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("parse record: %w", err)
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("parse record: expected string, got %v", tok)
	}
	return s, nil
}
