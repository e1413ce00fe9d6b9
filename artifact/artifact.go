// Package artifact fetches handler source from where a deployment keeps it:
// local files, S3 objects, or redis keys.
//
// References:
//
//	/path/to/handler.star          local file
//	file:///path/to/handler.star   local file
//	s3://bucket/key                S3 object
//	redis://host:port/db?key=name  redis string value
package artifact

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxSize bounds a fetched artifact (1 MiB), matching the worker's
// default maximum line size.
const DefaultMaxSize int64 = 1 << 20

// Source fetches raw artifact bytes for a reference.
type Source interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Scheme returns the scheme of ref, "file" for bare paths.
func Scheme(ref string) string {
	if i := strings.Index(ref, "://"); i > 0 {
		return ref[:i]
	}
	return "file"
}

// Resolver routes references to a source by scheme.
type Resolver struct {
	sources map[string]Source
}

// NewResolver creates a resolver with a file source. Register adds others.
func NewResolver(maxSize int64) *Resolver {
	return &Resolver{sources: map[string]Source{"file": NewFileSource(maxSize)}}
}

// Register binds scheme to src.
func (r *Resolver) Register(scheme string, src Source) {
	r.sources[scheme] = src
}

// Fetch implements Source.
func (r *Resolver) Fetch(ctx context.Context, ref string) ([]byte, error) {
	scheme := Scheme(ref)
	src, ok := r.sources[scheme]
	if !ok {
		return nil, &FetchError{Kind: ErrUnsupported, Source: scheme, Ref: ref, Err: fmt.Errorf("no source for scheme %q", scheme)}
	}
	return src.Fetch(ctx, ref)
}

// readLimited reads r up to max bytes, failing with ErrTooLarge beyond it.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxSize
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, max)
	}
	return data, nil
}
