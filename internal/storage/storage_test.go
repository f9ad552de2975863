package storage

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/butler/internal/dataid"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	reader := ReaderFunc(func(ctx context.Context, url string, id dataid.DataID, predecessor any) (any, error) {
		return url, nil
	})
	require.NoError(t, r.RegisterReader("custom.read", reader))

	got, err := r.Reader("custom.read")
	require.NoError(t, err)
	v, err := got.Read(context.Background(), "/x", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "/x", v)

	_, err = r.Writer("custom.write")
	require.ErrorIs(t, err, ErrUnknownHandler)
}

func TestRegistry_RejectsBadRegistrations(t *testing.T) {
	r := NewRegistry()
	noop := WriterFunc(func(context.Context, any, string, dataid.DataID) error { return nil })

	require.ErrorIs(t, r.RegisterWriter("", noop), ErrEmptyName)
	require.ErrorIs(t, r.RegisterWriter("w", nil), ErrNilHandler)
	require.NoError(t, r.RegisterWriter("w", noop))
	require.ErrorIs(t, r.RegisterWriter("w", noop), ErrConflictingRegistration)
}

func TestBuiltin_Names(t *testing.T) {
	readers, writers := Builtin(memfs.New()).Names()
	require.Equal(t, []string{BytesRead, ExposureRead, TextRead, YAMLRead}, readers)
	require.Equal(t, []string{BytesWrite, ExposureWrite, TextWrite, YAMLWrite}, writers)
}

func TestBuiltin_BytesRoundTrip(t *testing.T) {
	fs := memfs.New()
	r := Builtin(fs)
	ctx := context.Background()

	w, err := r.Writer(BytesWrite)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, []byte("payload"), "/repo/raw/1/2.dat", nil))

	rd, err := r.Reader(BytesRead)
	require.NoError(t, err)
	got, err := rd.Read(ctx, "/repo/raw/1/2.dat", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}

func TestBuiltin_WriteUnsupportedValue(t *testing.T) {
	w, err := Builtin(memfs.New()).Writer(BytesWrite)
	require.NoError(t, err)
	err = w.Write(context.Background(), 42, "/x", nil)
	require.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestBuiltin_YAMLOverlaysPredecessor(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/repo/meta.yaml", []byte("filter: r\nexptime: 30\n"), 0o644))
	rd, err := Builtin(fs).Reader(YAMLRead)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := rd.Read(ctx, "/repo/meta.yaml", nil, map[string]any{"filter": "g", "ccd": 3})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"filter": "r", "exptime": 30, "ccd": 3}, got)

	got, err = rd.Read(ctx, "/repo/meta.yaml", nil, &Exposure{Path: "/repo/img.fits", Data: []byte("px")})
	require.NoError(t, err)
	exp, ok := got.(*Exposure)
	require.True(t, ok)
	require.Equal(t, []byte("px"), exp.Data)
	require.Equal(t, map[string]any{"filter": "r", "exptime": 30}, exp.Metadata)
}

func TestBuiltin_ExposureRead(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/tests/foo-ccd3.fits", []byte("SIMPLE"), 0o644))
	rd, err := Builtin(fs).Reader(ExposureRead)
	require.NoError(t, err)

	got, err := rd.Read(context.Background(), "/tests/foo-ccd3.fits", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "Exposure(/tests/foo-ccd3.fits)", got.(*Exposure).String())
}

func TestSameContent(t *testing.T) {
	require.True(t, SameContent([]byte("a"), "a"))
	require.False(t, SameContent([]byte("a"), "b"))
	require.True(t, SameContent(map[string]any{"ccd": 3}, map[string]int{"ccd": 3}))
	require.False(t, SameContent(map[string]any{"ccd": 3}, map[string]int{"ccd": 4}))
	require.True(t, SameContent(&Exposure{Path: "/a", Data: []byte("x")}, &Exposure{Data: []byte("x")}))
	require.False(t, SameContent(&Exposure{Data: []byte("x")}, []byte("x")))
}

func TestDescribe(t *testing.T) {
	require.Equal(t, "abc", Describe([]byte("abc")))
	require.Equal(t, "ccd: 3\n", Describe(map[string]any{"ccd": 3}))
}
