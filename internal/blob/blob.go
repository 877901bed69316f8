// Package blob stores synthesized reply audio and returns a reference the
// client can fetch it from.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for names that would escape the sink root.
var ErrInvalidName = errors.New("invalid blob name")

// Sink persists one object and returns its public reference.
type Sink interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// LocalSink writes objects into a directory served under URLPrefix.
type LocalSink struct {
	dir    string
	prefix string
}

func NewLocalSink(dir, urlPrefix string) (*LocalSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("local blob sink requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	prefix := "/" + strings.Trim(strings.TrimSpace(urlPrefix), "/")
	if prefix == "/" {
		prefix = ""
	}
	return &LocalSink{dir: dir, prefix: prefix}, nil
}

// Dir is the directory objects are written to.
func (s *LocalSink) Dir() string { return s.dir }

func (s *LocalSink) Put(ctx context.Context, name string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	// Write then rename so readers never see a partial clip.
	final := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", err
	}
	return s.prefix + "/" + name, nil
}

// ValidName reports whether name is a single safe path element.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	return path.Base(name) == name && !strings.ContainsAny(name, `/\`)
}
