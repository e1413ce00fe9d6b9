package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Journal frames are a 4-byte big-endian length followed by that many bytes
// of msgpack.
const (
	LengthPrefixSize = 4
	MaxFrameSize     = 16 << 20
	MaxPayloadSize   = MaxFrameSize - LengthPrefixSize
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial: the journal ends inside a frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge: the length prefix exceeds MaxPayloadSize.
	FrameErrorTooLarge
	// FrameErrorDecode: the payload is not a journal record.
	FrameErrorDecode
)

// FrameError is returned by FrameDecoder, EncodeFrame and JournalReader.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsFatal reports whether reading must stop. A short or oversized frame
// leaves the reader at an unknown offset; an undecodable record does not.
func (e *FrameError) IsFatal() bool {
	return e.Kind != FrameErrorDecode
}

// IsFatalFrameError reports whether err wraps a fatal *FrameError.
func IsFatalFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe) && fe.IsFatal()
}

func oversized(n uint64) *FrameError {
	return &FrameError{
		Kind: FrameErrorTooLarge,
		Msg:  fmt.Sprintf("journal frame of %d bytes exceeds limit of %d", n, MaxPayloadSize),
	}
}

// FrameDecoder splits a journal stream into frame payloads.
type FrameDecoder struct {
	r      io.Reader
	prefix [LengthPrefixSize]byte
}

// NewFrameDecoder returns a decoder reading from r.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{r: r}
}

// ReadFrame returns the next payload. A stream that ends exactly on a frame
// boundary yields io.EOF; anything shorter is a FrameErrorPartial.
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "journal frame header cut short", Err: err}
	}

	n := binary.BigEndian.Uint32(d.prefix[:])
	if n > MaxPayloadSize {
		return nil, oversized(uint64(n))
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "journal frame body cut short", Err: err}
	}
	return payload, nil
}

// EncodeFrame returns payload with its length prefix prepended.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, oversized(uint64(len(payload)))
	}
	frame := binary.BigEndian.AppendUint32(make([]byte, 0, LengthPrefixSize+len(payload)), uint32(len(payload)))
	return append(frame, payload...), nil
}
