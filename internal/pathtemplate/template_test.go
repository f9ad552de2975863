package pathtemplate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/butler/internal/dataid"
)

func TestExtractKeys(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     []string
	}{
		{"plain", "{visit}/{detector}.dat", []string{"detector", "visit"}},
		{"format suffix ignored", "raw/v{visit:07d}_c{ccd:02d}.fits", []string{"ccd", "visit"}},
		{"escaped braces", "{{literal}}/{visit}", []string{"visit"}},
		{"repeated key", "{visit}/{visit}-{ccd}", []string{"ccd", "visit"}},
		{"no placeholders", "tests/foo-ccd3.fits", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := ExtractKeys(tt.template)
			require.NoError(t, err)
			require.Equal(t, tt.want, keys.Sorted())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("{visit")
	var synErr *SyntaxError
	require.ErrorAs(t, err, &synErr)
	require.Contains(t, err.Error(), "unterminated")

	_, err = Parse("{}/x")
	require.ErrorAs(t, err, &synErr)

	_, err = Parse("{vi-sit}")
	require.ErrorAs(t, err, &synErr)
}

func TestSubstitute(t *testing.T) {
	got, err := Substitute("{visit}/{detector}.dat", dataid.DataID{"visit": "1234", "detector": "5"})
	require.NoError(t, err)
	require.Equal(t, "1234/5.dat", got)

	got, err = Substitute("raw/v{visit:07d}_{filter}.fits", dataid.DataID{"visit": "1234", "filter": "r"})
	require.NoError(t, err)
	require.Equal(t, "raw/v0001234_r.fits", got)

	got, err = Substitute("{{x}}/{visit}", dataid.DataID{"visit": "1"})
	require.NoError(t, err)
	require.Equal(t, "{x}/1", got)
}

func TestSubstitute_MissingKey(t *testing.T) {
	_, err := Substitute("{visit}/{detector}.dat", dataid.DataID{"visit": "1234"})
	var missing *MissingKeyError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "detector", missing.Key)
}

func TestReverseMatcher_Basic(t *testing.T) {
	tmpl := MustParse("{visit}/{detector}.dat")
	m, err := tmpl.ReverseMatcher(dataid.DataID{"visit": "1234"}, dataid.NewKeySet("detector"))
	require.NoError(t, err)
	require.Equal(t, "1234/*.dat", m.Glob)
	require.Equal(t, []string{"detector"}, m.Keys)

	id, ok := m.Match("1234/5.dat", dataid.DataID{"visit": "1234"})
	require.True(t, ok)
	require.Equal(t, dataid.DataID{"visit": "1234", "detector": "5"}, id)

	_, ok = m.Match("9999/5.dat", dataid.DataID{"visit": "1234"})
	require.False(t, ok)
}

func TestReverseMatcher_EscapesLiterals(t *testing.T) {
	tmpl := MustParse("data[1]/{visit}.*")
	m, err := tmpl.ReverseMatcher(nil, dataid.NewKeySet("visit"))
	require.NoError(t, err)
	require.Equal(t, `data\[1]/*.\*`, m.Glob)

	id, ok := m.Match("data[1]/42.*", dataid.DataID{})
	require.True(t, ok)
	require.Equal(t, "42", id["visit"])

	_, ok = m.Match("data1/42.x", dataid.DataID{})
	require.False(t, ok)
}

func TestReverseMatcher_RepeatedKeyConsistency(t *testing.T) {
	tmpl := MustParse("{visit}/calexp-{visit}-{ccd}.fits")
	m, err := tmpl.ReverseMatcher(dataid.DataID{}, dataid.NewKeySet("visit", "ccd"))
	require.NoError(t, err)
	require.Equal(t, []string{"visit", "visit", "ccd"}, m.Keys)

	id, ok := m.Match("12/calexp-12-3.fits", dataid.DataID{})
	require.True(t, ok)
	require.Equal(t, dataid.DataID{"visit": "12", "ccd": "3"}, id)

	// Disagreement is not an error, just not a match.
	_, ok = m.Match("12/calexp-13-3.fits", dataid.DataID{})
	require.False(t, ok)
}

func TestReverseMatcher_ZeroPaddedCapture(t *testing.T) {
	tmpl := MustParse("v{visit:05d}.fits")
	m, err := tmpl.ReverseMatcher(nil, dataid.NewKeySet("visit"))
	require.NoError(t, err)

	id, ok := m.Match("v01234.fits", dataid.DataID{})
	require.True(t, ok)
	require.Equal(t, "1234", id["visit"])
}

func TestReverseMatcher_ZeroPaddedCaptureIsCanonicalDecimal(t *testing.T) {
	tmpl := MustParse("v{visit:05d}/{ccd}.fits")
	path, err := tmpl.Substitute(dataid.DataID{"visit": "007", "ccd": "1"})
	require.NoError(t, err)
	require.Equal(t, "v00007/1.fits", path)

	m, err := tmpl.ReverseMatcher(nil, dataid.NewKeySet("visit", "ccd"))
	require.NoError(t, err)
	id, ok := m.Match(path, dataid.DataID{})
	require.True(t, ok)
	require.Equal(t, dataid.DataID{"visit": "7", "ccd": "1"}, id)
}

func TestReverseMatcher_MissingKnownKey(t *testing.T) {
	tmpl := MustParse("{visit}/{filter}/{ccd}.fits")
	_, err := tmpl.ReverseMatcher(dataid.DataID{"visit": "1"}, dataid.NewKeySet("ccd"))
	var missing *MissingKeyError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "filter", missing.Key)
}

// TestReverseMatcher_RoundTrip checks that capturing the target keys of a
// substituted path recovers the identifier that produced it.
func TestReverseMatcher_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,5}`), 1, 4, rapid.ID[string]).Draw(rt, "keys")
		seps := []string{"/", "_", "-", "."}

		var b strings.Builder
		b.WriteString(rapid.SampledFrom([]string{"", "raw/", "data-"}).Draw(rt, "prefix"))
		id := make(dataid.DataID)
		for i, k := range keys {
			if i > 0 {
				b.WriteString(rapid.SampledFrom(seps).Draw(rt, "sep"))
			}
			b.WriteString("{" + k + "}")
			id[k] = rapid.StringMatching(`[a-z0-9]{1,6}`).Draw(rt, "value")
		}
		b.WriteString(rapid.SampledFrom([]string{"", ".fits", ".dat"}).Draw(rt, "suffix"))

		tmpl, err := Parse(b.String())
		require.NoError(rt, err)
		path, err := tmpl.Substitute(id)
		require.NoError(rt, err)

		targets := dataid.NewKeySet(rapid.SliceOfDistinct(rapid.SampledFrom(keys), rapid.ID[string]).Draw(rt, "targets")...)
		known := make(dataid.DataID)
		for k, v := range id {
			if !targets.Has(k) {
				known[k] = v
			}
		}

		m, err := tmpl.ReverseMatcher(known, targets)
		require.NoError(rt, err)
		got, ok := m.Match(path, known)
		require.True(rt, ok, "path %q template %q", path, tmpl)
		require.Equal(rt, id, got)
	})
}
