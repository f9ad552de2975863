package pathtemplate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zjrosen/butler/internal/dataid"
)

// Matcher recovers unknown key values from concrete paths produced by a template.
type Matcher struct {
	// Glob matches every candidate path; target placeholders become "*".
	Glob string
	// Regexp captures one group per target placeholder occurrence.
	Regexp *regexp.Regexp
	// Keys names the captured groups in order. A key repeats when its
	// placeholder occurs more than once in the template.
	Keys []string

	formats []string
}

// ReverseMatcher builds a Matcher for t. Placeholders whose key is in targets
// become capturing wildcards; every other placeholder is substituted from known.
func (t *Template) ReverseMatcher(known dataid.DataID, targets dataid.KeySet) (*Matcher, error) {
	var glob, re strings.Builder
	m := &Matcher{}
	re.WriteByte('^')
	for _, s := range t.segs {
		switch {
		case !s.isKey():
			glob.WriteString(EscapeGlob(s.literal))
			re.WriteString(regexp.QuoteMeta(s.literal))
		case targets.Has(s.key):
			glob.WriteByte('*')
			re.WriteString(`(.+?)`)
			m.Keys = append(m.Keys, s.key)
			m.formats = append(m.formats, s.format)
		default:
			v, ok := known[s.key]
			if !ok {
				return nil, &MissingKeyError{Key: s.key, Template: t.raw}
			}
			v = applyFormat(v, s.format)
			glob.WriteString(EscapeGlob(v))
			re.WriteString(regexp.QuoteMeta(v))
		}
	}
	re.WriteByte('$')

	compiled, err := regexp.Compile(re.String())
	if err != nil {
		return nil, err
	}
	m.Glob = glob.String()
	m.Regexp = compiled
	return m, nil
}

// Match extracts target values from path and returns base extended with them.
// It reports false when path does not match, or when a repeated key captured
// disagreeing values.
//
// A key with a zero-padded integer format ("{visit:05d}") is captured in
// canonical decimal form: "00007" yields "7". Identifier values written
// with their own leading zeros ("007") therefore do not round-trip; they
// come back as "7".
func (m *Matcher) Match(path string, base dataid.DataID) (dataid.DataID, bool) {
	groups := m.Regexp.FindStringSubmatch(path)
	if groups == nil {
		return nil, false
	}
	id := base.Clone()
	captured := make(dataid.KeySet, len(m.Keys))
	for i, key := range m.Keys {
		v := normalizeCapture(groups[i+1], m.formats[i])
		if captured.Has(key) && id[key] != v {
			return nil, false
		}
		captured.Add(key)
		id[key] = v
	}
	return id, true
}

// normalizeCapture strips zero padding introduced by an integer width format
// so a captured value compares equal to the identifier that produced it.
func normalizeCapture(v, format string) string {
	if _, zero, ok := intFormat(format); !ok || !zero {
		return v
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return v
	}
	return strconv.FormatInt(n, 10)
}

// EscapeGlob quotes glob metacharacters in s.
func EscapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
