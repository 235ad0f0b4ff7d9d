package result

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	KeyProgram = "program"
	KeyResult  = "result"
	KeyImage   = "image"
)

var numericPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Entry is one output field. Value holds the decoded form (int, bool,
// decimal.Decimal, string or nil) and raw its JSON encoding.
type Entry struct {
	Key   string
	Value any
	raw   json.RawMessage
}

// Document is the flat JSON object for one cycle, in output order.
type Document struct {
	entries []Entry
}

// Entries returns the fields in output order.
func (d *Document) Entries() []Entry {
	return d.entries
}

// Get returns the value of the first field named key.
func (d *Document) Get(key string) (any, bool) {
	for _, e := range d.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Pass reports the normalized result flag.
func (d *Document) Pass() bool {
	v, _ := d.Get(KeyResult)
	b, _ := v.(bool)
	return b
}

// Map returns the fields keyed by name for template rendering. Numbers are
// rendered as their normalized text. Later duplicates win.
func (d *Document) Map() map[string]any {
	m := make(map[string]any, len(d.entries))
	for _, e := range d.entries {
		if dec, ok := e.Value.(decimal.Decimal); ok {
			m[e.Key] = dec.String()
			continue
		}
		m[e.Key] = e.Value
	}
	return m
}

// MarshalJSON writes the fields in order as one object. Strings are not
// HTML-escaped; encoding/json re-escapes them when it wraps this method, so
// write the output of MarshalJSON directly.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalString(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(e.raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Document) add(key string, value any, raw json.RawMessage) {
	d.entries = append(d.entries, Entry{Key: key, Value: value, raw: raw})
}

// set replaces the first field named key, or appends it.
func (d *Document) set(key string, value any, raw json.RawMessage) {
	for i := range d.entries {
		if d.entries[i].Key == key {
			d.entries[i].Value = value
			d.entries[i].raw = raw
			return
		}
	}
	d.add(key, value, raw)
}

// Encoder builds documents from result files.
type Encoder struct {
	// Program is emitted when the record has no program field.
	Program int
	// InlineImage embeds the image as base64 instead of its path.
	InlineImage bool
}

// EncodeFile reads the record at path, normalizes it and appends the image
// found under the record's directory.
func (e Encoder) EncodeFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}

	rec, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	doc, err := e.Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", path, err)
	}

	if err := e.appendImage(doc, ImageDir(path)); err != nil {
		return nil, err
	}
	return doc, nil
}

// Encode normalizes a record. The program and result fields appear once,
// at the position of their first occurrence or appended when absent; a
// later duplicate overwrites the value.
func (e Encoder) Encode(rec Record) (*Document, error) {
	doc := &Document{}
	var hasProgram, hasResult bool

	for _, f := range rec {
		switch {
		case strings.EqualFold(f.Key, KeyProgram):
			n, err := strconv.Atoi(f.Value)
			if err != nil {
				return nil, fmt.Errorf("program %q is not an integer", f.Value)
			}
			doc.set(KeyProgram, n, json.RawMessage(strconv.Itoa(n)))
			hasProgram = true

		case strings.EqualFold(f.Key, KeyResult), strings.EqualFold(f.Key, "pass"):
			// Status code 0 means the inspection passed.
			pass := f.Value == "0"
			doc.set(KeyResult, pass, json.RawMessage(strconv.FormatBool(pass)))
			hasResult = true

		default:
			value, raw, err := encodeValue(f.Value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Key, err)
			}
			doc.add(f.Key, value, raw)
		}
	}

	if !hasProgram {
		doc.add(KeyProgram, e.Program, json.RawMessage(strconv.Itoa(e.Program)))
	}
	if !hasResult {
		doc.add(KeyResult, false, json.RawMessage("false"))
	}
	return doc, nil
}

func encodeValue(v string) (any, json.RawMessage, error) {
	if strings.TrimSpace(v) == "" {
		return "", json.RawMessage(`""`), nil
	}

	if numericPattern.MatchString(v) {
		d, err := NormalizeNumber(v)
		if err != nil {
			return nil, nil, err
		}
		return d, json.RawMessage(d.String()), nil
	}

	raw, err := marshalString(v)
	if err != nil {
		return nil, nil, err
	}
	return v, raw, nil
}

// marshalString encodes s as a JSON string without HTML escaping.
func marshalString(s string) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// NormalizeNumber applies the controller's numeric convention to an
// unsigned decimal literal: '0' characters are trimmed from both ends of the
// text, a bare leading or trailing '.' is padded with 0, and an empty or
// "0.0" remainder becomes 0.
//
// The trimming works on text, so "100" becomes 1.
func NormalizeNumber(v string) (decimal.Decimal, error) {
	v = strings.Trim(v, "0")
	if strings.HasPrefix(v, ".") {
		v = "0" + v
	}
	if strings.HasSuffix(v, ".") {
		v += "0"
	}
	if v == "" || v == "0.0" {
		v = "0"
	}

	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing number %q: %w", v, err)
	}
	return d, nil
}

func (e Encoder) appendImage(doc *Document, dir string) error {
	path, err := FindImage(dir)
	if err != nil {
		return fmt.Errorf("locating image: %w", err)
	}
	if path == "" {
		doc.add(KeyImage, nil, json.RawMessage("null"))
		return nil
	}

	value := path
	if e.InlineImage {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		value = base64.StdEncoding.EncodeToString(data)
	}

	raw, err := marshalString(value)
	if err != nil {
		return err
	}
	doc.add(KeyImage, value, raw)
	return nil
}
