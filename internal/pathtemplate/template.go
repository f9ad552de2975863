// Package pathtemplate implements the placeholder algebra used by dataset
// path templates: key extraction, substitution and reverse matching.
//
// Placeholders are written {key} or {key:format}. A doubled brace ({{ or }})
// is a literal brace. Supported formats are integer widths such as "05d" or
// "4d" and the plain "s" and "d" verbs; any other format is accepted and
// ignored on substitution.
package pathtemplate

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/zjrosen/butler/internal/dataid"
)

// MissingKeyError reports a placeholder whose key is absent from the identifier.
type MissingKeyError struct {
	Key      string
	Template string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing key %q for template %q", e.Key, e.Template)
}

// SyntaxError reports a malformed placeholder.
type SyntaxError struct {
	Template string
	Offset   int
	Reason   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid template %q at offset %d: %s", e.Template, e.Offset, e.Reason)
}

type segment struct {
	literal string
	key     string
	format  string
}

func (s segment) isKey() bool { return s.key != "" }

// Template is a parsed path template.
type Template struct {
	raw  string
	segs []segment
}

// Parse parses a path template.
func Parse(raw string) (*Template, error) {
	t := &Template{raw: raw}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segs = append(t.segs, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(raw); {
		c := raw[i]
		switch {
		case c == '{' && i+1 < len(raw) && raw[i+1] == '{':
			lit.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(raw) && raw[i+1] == '}':
			lit.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexByte(raw[i:], '}')
			if end < 0 {
				return nil, &SyntaxError{Template: raw, Offset: i, Reason: "unterminated placeholder"}
			}
			body := raw[i+1 : i+end]
			key, format, _ := strings.Cut(body, ":")
			if !isKeyName(key) {
				return nil, &SyntaxError{Template: raw, Offset: i, Reason: fmt.Sprintf("invalid key name %q", key)}
			}
			flush()
			t.segs = append(t.segs, segment{key: key, format: format})
			i += end + 1
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()
	return t, nil
}

// MustParse is like Parse but panics on error. Intended for fixed templates in tests.
func MustParse(raw string) *Template {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func isKeyName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// String returns the template source.
func (t *Template) String() string { return t.raw }

// Keys returns placeholder key names in first-appearance order, without duplicates.
func (t *Template) Keys() []string {
	seen := make(dataid.KeySet)
	var keys []string
	for _, s := range t.segs {
		if s.isKey() && !seen.Has(s.key) {
			seen.Add(s.key)
			keys = append(keys, s.key)
		}
	}
	return keys
}

// ExtractKeys returns the set of placeholder names in raw.
func ExtractKeys(raw string) (dataid.KeySet, error) {
	t, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return dataid.NewKeySet(t.Keys()...), nil
}

// Substitute replaces every placeholder with its value from id.
func (t *Template) Substitute(id dataid.DataID) (string, error) {
	var b strings.Builder
	for _, s := range t.segs {
		if !s.isKey() {
			b.WriteString(s.literal)
			continue
		}
		v, ok := id[s.key]
		if !ok {
			return "", &MissingKeyError{Key: s.key, Template: t.raw}
		}
		b.WriteString(applyFormat(v, s.format))
	}
	return b.String(), nil
}

// Substitute parses raw and substitutes id into it.
func Substitute(raw string, id dataid.DataID) (string, error) {
	t, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return t.Substitute(id)
}

// applyFormat renders v according to an integer width format. Values that
// are not integers, and formats that are not integer widths, pass through.
func applyFormat(v, format string) string {
	width, zero, ok := intFormat(format)
	if !ok {
		return v
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return v
	}
	if zero {
		return fmt.Sprintf("%0*d", width, n)
	}
	return fmt.Sprintf("%*d", width, n)
}

// intFormat parses formats of the form [0][width]d.
func intFormat(format string) (width int, zero bool, ok bool) {
	if !strings.HasSuffix(format, "d") {
		return 0, false, false
	}
	spec := strings.TrimSuffix(format, "d")
	if spec == "" {
		return 0, false, true
	}
	zero = strings.HasPrefix(spec, "0")
	w, err := strconv.Atoi(spec)
	if err != nil || w < 0 {
		return 0, false, false
	}
	return w, zero, true
}
