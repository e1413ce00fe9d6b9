package ipc

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/warmstart/types"
)

// JournalRecord is one envelope as persisted in a worker journal.
type JournalRecord struct {
	// Seq is the monotonic sequence number, starts at 1.
	Seq int64 `msgpack:"seq" json:"seq"`
	// Ts is the emission time in RFC 3339 UTC format.
	Ts string `msgpack:"ts" json:"ts"`
	// Type is the envelope kind.
	Type types.EnvelopeKind `msgpack:"type" json:"type"`
	// Data is the compact JSON payload of the envelope.
	Data string `msgpack:"data" json:"data"`
}

// Envelope converts the record back to the envelope it was written from.
func (r *JournalRecord) Envelope() types.Envelope {
	return types.Envelope{Kind: r.Type, Data: []byte(r.Data)}
}

// JournalWriter appends envelopes to a journal as msgpack frames.
type JournalWriter struct {
	mu  sync.Mutex
	w   io.Writer
	seq int64
	now func() time.Time
}

// NewJournalWriter creates a journal writer over w.
func NewJournalWriter(w io.Writer) *JournalWriter {
	return &JournalWriter{w: w, now: time.Now}
}

// Append writes env as the next journal record.
func (j *JournalWriter) Append(env types.Envelope) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	record := JournalRecord{
		Seq:  j.seq,
		Ts:   j.now().UTC().Format(time.RFC3339Nano),
		Type: env.Kind,
		Data: string(env.Data),
	}
	payload, err := msgpack.Marshal(&record)
	if err != nil {
		return fmt.Errorf("journal: marshal record %d: %w", record.Seq, err)
	}
	frame, err := EncodeFrame(payload)
	if err != nil {
		return fmt.Errorf("journal: record %d: %w", record.Seq, err)
	}
	if _, err := j.w.Write(frame); err != nil {
		return fmt.Errorf("journal: write record %d: %w", record.Seq, err)
	}
	return nil
}

// JournalReader reads records back from a journal.
type JournalReader struct {
	frames *FrameDecoder
}

// NewJournalReader creates a journal reader over r.
func NewJournalReader(r io.Reader) *JournalReader {
	return &JournalReader{frames: NewFrameDecoder(r)}
}

// Next returns the next record, or io.EOF at a clean end of journal.
func (j *JournalReader) Next() (*JournalRecord, error) {
	payload, err := j.frames.ReadFrame()
	if err != nil {
		return nil, err
	}
	var record JournalRecord
	if err := msgpack.Unmarshal(payload, &record); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode journal record",
			Err:  err,
		}
	}
	return &record, nil
}

// ReadAll returns every record in the journal.
// A non-fatal decode error skips the record; fatal frame errors stop reading
// and are returned together with the records read so far.
func (j *JournalReader) ReadAll() ([]JournalRecord, error) {
	var records []JournalRecord
	for {
		record, err := j.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			if IsFatalFrameError(err) {
				return records, err
			}
			continue
		}
		records = append(records, *record)
	}
}
