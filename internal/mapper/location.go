package mapper

import (
	"context"
	"fmt"

	"github.com/zjrosen/butler/internal/dataid"
	"github.com/zjrosen/butler/internal/storage"
)

// Location is one concrete storage address of a dataset together with the
// handler that reads or writes it. Locations are immutable.
type Location struct {
	url     string
	handler string
	reader  storage.Reader
	writer  storage.Writer
	id      dataid.DataID
}

// URL returns the fully substituted address.
func (l *Location) URL() string { return l.url }

// Handler returns the configured storage handler name.
func (l *Location) Handler() string { return l.handler }

// DataID returns a copy of the identifier that produced the location.
func (l *Location) DataID() dataid.DataID { return l.id.Clone() }

// ForWrite reports whether the location carries a writer.
func (l *Location) ForWrite() bool { return l.writer != nil }

// Read runs the location's reader. predecessor is the previous location's
// result for multi-location dataset types.
func (l *Location) Read(ctx context.Context, predecessor any) (any, error) {
	if l.reader == nil {
		return nil, fmt.Errorf("location %s has no reader", l.url)
	}
	v, err := l.reader.Read(ctx, l.url, l.id.Clone(), predecessor)
	if err != nil {
		return nil, fmt.Errorf("%s reading %s: %w", l.handler, l.url, err)
	}
	return v, nil
}

// Write runs the location's writer.
func (l *Location) Write(ctx context.Context, value any) error {
	if l.writer == nil {
		return fmt.Errorf("location %s has no writer", l.url)
	}
	if err := l.writer.Write(ctx, value, l.url, l.id.Clone()); err != nil {
		return fmt.Errorf("%s writing %s: %w", l.handler, l.url, err)
	}
	return nil
}

func (l *Location) String() string {
	return fmt.Sprintf("Location(%s, %s, %s)", l.url, l.handler, l.id)
}

// ReadAll threads a value through locs in order, each reader receiving the
// previous reader's result.
func ReadAll(ctx context.Context, locs []*Location) (any, error) {
	var value any
	for _, loc := range locs {
		v, err := loc.Read(ctx, value)
		if err != nil {
			return nil, err
		}
		value = v
	}
	return value, nil
}

// URLs lists the addresses of locs.
func URLs(locs []*Location) []string {
	out := make([]string, len(locs))
	for i, l := range locs {
		out[i] = l.url
	}
	return out
}
