// Package result turns the controller's comma-separated result record into
// the normalized JSON document written to stdout.
package result

import (
	"errors"
	"strings"
)

// ErrEmptyRecord is returned when the result file has no non-blank line.
var ErrEmptyRecord = errors.New("result record is empty")

// Field is one key=value pair of a result record, trimmed but otherwise raw.
type Field struct {
	Key   string
	Value string
}

// Record is the ordered field list of one result line. Keys may repeat.
type Record []Field

// Parse reads the first non-empty line of text and splits it into fields.
// Fields are separated by commas; each splits on its first '='. A field
// without '=' gets an empty value.
func Parse(text string) (Record, error) {
	line, ok := firstLine(strings.TrimSpace(text))
	if !ok {
		return nil, ErrEmptyRecord
	}

	parts := strings.Split(line, ",")
	rec := make(Record, 0, len(parts))
	for _, part := range parts {
		key, value, _ := strings.Cut(strings.TrimSpace(part), "=")
		rec = append(rec, Field{
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value),
		})
	}
	return rec, nil
}

func firstLine(text string) (string, bool) {
	lines := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r'
	})
	if len(lines) == 0 {
		return "", false
	}
	return lines[0], true
}
