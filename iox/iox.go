// Package iox provides I/O helpers for resource cleanup and stream flushing.
package iox

import "io"

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
// Use for non-Close cleanup calls (e.g. Sync) where errors are unactionable:
//
//	defer iox.DiscardErr(f.Sync)
func DiscardErr(fn func() error) { _ = fn() }

// Flush pushes buffered bytes in w toward the reader on the other side.
// Writers with a Flush method (bufio.Writer) are flushed. Anything else is
// treated as unbuffered and left alone; os.File writes are already visible to
// a pipe reader, and fsync is not wanted on a protocol stream.
func Flush(w io.Writer) error {
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
