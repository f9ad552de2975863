package storage

import (
	"context"
	"fmt"
	"io"
	"maps"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/butler/internal/dataid"
	"github.com/zjrosen/butler/internal/log"
)

// Built-in handler names.
const (
	BytesRead     = "bytes.read"
	BytesWrite    = "bytes.write"
	TextRead      = "text.read"
	TextWrite     = "text.write"
	YAMLRead      = "yaml.read"
	YAMLWrite     = "yaml.write"
	ExposureRead  = "exposure.read"
	ExposureWrite = "exposure.write"
)

// Exposure is an image file plus optional metadata overlaid by later components.
type Exposure struct {
	Path     string
	Data     []byte
	Metadata map[string]any
}

func (e *Exposure) String() string {
	return fmt.Sprintf("Exposure(%s)", e.Path)
}

// EqualContent compares stored content, ignoring where it was read from.
func (e *Exposure) EqualContent(other any) bool {
	o, ok := other.(*Exposure)
	if !ok {
		return false
	}
	return string(e.Data) == string(o.Data) && sameYAML(e.Metadata, o.Metadata)
}

// Builtin returns a registry holding the built-in handlers over fs.
func Builtin(fs billy.Filesystem) *Registry {
	r := NewRegistry()
	h := fileHandlers{fs: fs}
	// Names are distinct constants; registration cannot conflict.
	_ = r.RegisterReader(BytesRead, ReaderFunc(h.readBytes))
	_ = r.RegisterWriter(BytesWrite, WriterFunc(h.writeBytes))
	_ = r.RegisterReader(TextRead, ReaderFunc(h.readText))
	_ = r.RegisterWriter(TextWrite, WriterFunc(h.writeBytes))
	_ = r.RegisterReader(YAMLRead, ReaderFunc(h.readYAML))
	_ = r.RegisterWriter(YAMLWrite, WriterFunc(h.writeYAML))
	_ = r.RegisterReader(ExposureRead, ReaderFunc(h.readExposure))
	_ = r.RegisterWriter(ExposureWrite, WriterFunc(h.writeExposure))
	return r
}

type fileHandlers struct {
	fs billy.Filesystem
}

func (h fileHandlers) load(url string) ([]byte, error) {
	f, err := h.fs.Open(url)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return data, nil
}

func (h fileHandlers) store(url string, data []byte) error {
	if err := h.fs.MkdirAll(filepath.Dir(url), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", url, err)
	}
	if err := util.WriteFile(h.fs, url, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", url, err)
	}
	log.Debug(log.CatStorage, "wrote dataset component", "url", url, "bytes", len(data))
	return nil
}

func (h fileHandlers) readBytes(_ context.Context, url string, _ dataid.DataID, _ any) (any, error) {
	return h.load(url)
}

func (h fileHandlers) readText(_ context.Context, url string, _ dataid.DataID, _ any) (any, error) {
	data, err := h.load(url)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (h fileHandlers) writeBytes(_ context.Context, value any, url string, _ dataid.DataID) error {
	data, err := asBytes(value)
	if err != nil {
		return err
	}
	return h.store(url, data)
}

// readYAML decodes a property set. A mapping predecessor is overlaid by the
// decoded keys; an Exposure predecessor receives them as metadata.
func (h fileHandlers) readYAML(_ context.Context, url string, _ dataid.DataID, predecessor any) (any, error) {
	data, err := h.load(url)
	if err != nil {
		return nil, err
	}
	props := map[string]any{}
	if err := yaml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}

	switch prev := predecessor.(type) {
	case map[string]any:
		merged := make(map[string]any, len(prev)+len(props))
		maps.Copy(merged, prev)
		maps.Copy(merged, props)
		return merged, nil
	case *Exposure:
		exp := *prev
		exp.Metadata = props
		return &exp, nil
	default:
		return props, nil
	}
}

func (h fileHandlers) writeYAML(_ context.Context, value any, url string, _ dataid.DataID) error {
	if exp, ok := value.(*Exposure); ok {
		value = exp.Metadata
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encode yaml for %s: %v", ErrUnsupportedValue, url, err)
	}
	return h.store(url, data)
}

func (h fileHandlers) readExposure(_ context.Context, url string, _ dataid.DataID, _ any) (any, error) {
	data, err := h.load(url)
	if err != nil {
		return nil, err
	}
	return &Exposure{Path: url, Data: data}, nil
}

func (h fileHandlers) writeExposure(_ context.Context, value any, url string, _ dataid.DataID) error {
	switch v := value.(type) {
	case *Exposure:
		return h.store(url, v.Data)
	case Exposure:
		return h.store(url, v.Data)
	default:
		data, err := asBytes(value)
		if err != nil {
			return err
		}
		return h.store(url, data)
	}
}

func asBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case *Exposure:
		return v.Data, nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
}
