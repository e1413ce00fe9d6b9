package artifact

import (
	"context"
	"os"
	"strings"

	"github.com/justapithecus/warmstart/iox"
)

// FileSource reads artifacts from the local filesystem.
type FileSource struct {
	maxSize int64
}

// NewFileSource creates a file source. A maxSize of zero selects DefaultMaxSize.
func NewFileSource(maxSize int64) *FileSource {
	return &FileSource{maxSize: maxSize}
}

// Fetch implements Source.
func (s *FileSource) Fetch(_ context.Context, ref string) ([]byte, error) {
	path := strings.TrimPrefix(ref, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapFetchError("file", ref, err)
	}
	defer iox.DiscardClose(f)

	data, err := readLimited(f, s.maxSize)
	if err != nil {
		return nil, wrapFetchError("file", ref, err)
	}
	return data, nil
}
