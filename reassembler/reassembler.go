// Package reassembler collects a receiver's committed chunks in order
// and finalizes them into the reconstructed file.
package reassembler

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/qrxfer/qrxfer/chunker"
)

// ErrSessionClosed is returned by any operation after Finalize.
var ErrSessionClosed = errors.New("reassembler session is closed")

// ErrOverflow is returned when committing a chunk would push the
// reassembled stream past the expected file size (spec §7: reassembly
// overflow is fatal).
var ErrOverflow = errors.New("committed bytes would exceed file size")

// FileDelivery is the external collaborator Finalize hands the
// reconstructed file to (spec §4.3, §6). Persistence layout is the
// collaborator's concern.
type FileDelivery interface {
	Deliver(fileName, fileType string, content io.Reader) error
}

// Reassembler accumulates committed chunks and exposes the pending
// slot used to stage the most recently observed, not-yet-committed
// chunk.
type Reassembler struct {
	meta     chunker.Metadata
	delivery FileDelivery

	committed [][]byte
	pending   *pendingChunk
	closed    bool
}

type pendingChunk struct {
	wireForm string
	raw      []byte
}

// New creates a Reassembler for a transfer described by meta, handing
// the finished file to delivery on Finalize.
func New(meta chunker.Metadata, delivery FileDelivery) *Reassembler {
	return &Reassembler{
		meta:      meta,
		delivery:  delivery,
		committed: make([][]byte, 0, meta.ChunkCount),
	}
}

// CommittedCount returns the number of chunks committed so far.
func (r *Reassembler) CommittedCount() int {
	return len(r.committed)
}

// HasPending reports whether the pending slot currently holds a chunk.
func (r *Reassembler) HasPending() bool {
	return r.pending != nil
}

// SetPending decodes wireForm to raw bytes, stores both in the pending
// slot (overwriting any previous pending chunk), and returns the
// digest of the wire-form text.
func (r *Reassembler) SetPending(wireForm string) (digest string, err error) {
	if r.closed {
		return "", ErrSessionClosed
	}
	raw, err := chunker.Decode(wireForm)
	if err != nil {
		return "", fmt.Errorf("decoding pending chunk: %w", err)
	}
	r.pending = &pendingChunk{wireForm: wireForm, raw: raw}
	return chunker.Digest(wireForm), nil
}

// DropPending discards the pending slot without committing it.
func (r *Reassembler) DropPending() {
	r.pending = nil
}

// Commit appends the pending chunk's raw bytes to the committed
// buffer and clears the pending slot. It is a no-op if nothing is
// pending, matching the "no pending" rows of the receiver transition
// table (spec §4.5).
func (r *Reassembler) Commit() error {
	if r.closed {
		return ErrSessionClosed
	}
	if r.pending == nil {
		return nil
	}

	committedBytes := uint64(0)
	for _, c := range r.committed {
		committedBytes += uint64(len(c))
	}
	if committedBytes+uint64(len(r.pending.raw)) > r.meta.FileSize {
		return ErrOverflow
	}

	r.committed = append(r.committed, r.pending.raw)
	r.pending = nil
	return nil
}

// Finalize concatenates all committed chunks in order, producing a
// byte stream of exactly FileSize bytes, and hands it to the delivery
// collaborator. Further operations after Finalize fail with
// ErrSessionClosed.
func (r *Reassembler) Finalize() error {
	if r.closed {
		return ErrSessionClosed
	}
	r.closed = true

	var buf bytes.Buffer
	for _, c := range r.committed {
		buf.Write(c)
	}
	if uint64(buf.Len()) != r.meta.FileSize {
		return fmt.Errorf("%w: reassembled %d bytes, expected %d", ErrOverflow, buf.Len(), r.meta.FileSize)
	}

	return r.delivery.Deliver(r.meta.FileName, r.meta.FileType, &buf)
}
