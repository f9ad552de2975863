package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormat_Fields(t *testing.T) {
	ts := time.Date(2025, 12, 6, 10, 45, 0, 0, time.UTC)
	got := format(ts, LevelError, CatMapper, "map failed", "datasetType", "calexp", "visit", 1234)
	require.Equal(t, "2025-12-06T10:45:00 [ERROR] [mapper] map failed datasetType=calexp visit=1234\n", got)
}

func TestFormat_OrphanKey(t *testing.T) {
	ts := time.Date(2025, 12, 6, 10, 45, 0, 0, time.UTC)
	got := format(ts, LevelInfo, CatLock, "acquired", "kind")
	require.Equal(t, "2025-12-06T10:45:00 [INFO] [lock] acquired kind=<missing>\n", got)
}

func TestInitWriter_RespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	t.Cleanup(func() { InitWriter(nil) })

	SetMinLevel(LevelWarn)
	Debug(CatCache, "hidden")
	Warn(CatCache, "shown", "key", "k")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "[WARN] [cache] shown key=k")
}

func TestSetEnabled_False(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	t.Cleanup(func() { InitWriter(nil) })

	SetEnabled(false)
	Error(CatDB, "nope")
	require.Empty(t, buf.String())
}

func TestInit_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	cleanup, err := Init(path)
	require.NoError(t, err)

	Info(CatButler, "provenance", "op", "get")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "[INFO] [butler] provenance op=get")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, LevelWarn, ParseLevel("warning"))
	require.Equal(t, LevelError, ParseLevel("error"))
	require.Equal(t, LevelInfo, ParseLevel("bogus"))
}
