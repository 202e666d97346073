// Package chunker splits a source file into fixed-size chunks and
// produces each chunk's wire form and digest, per the protocol's
// wire-compatibility contract: the digest is SHA-256 of the Base64
// text, not of the raw bytes.
package chunker

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrChunkSizeFrozen is returned by SetChunkSize once the Chunker has
// produced its first chunk; chunk size is only reconfigurable before
// transfer begins (spec §4.2).
var ErrChunkSizeFrozen = errors.New("chunk size is frozen after the first chunk is produced")

// ErrChunkOutOfRange is returned by Produce for n outside [1, ChunkCount].
var ErrChunkOutOfRange = errors.New("chunk index out of range")

// Sentinel errors for invalid meta_info bodies (spec §7: "Metadata invalid").
var (
	errEmptyFileName          = errors.New("meta_info: file name must not be empty")
	errNonPositiveChunkSize   = errors.New("meta_info: chunk size must be positive")
	errInconsistentChunkCount = errors.New("meta_info: chunk count inconsistent with file size and chunk size")
)

// Metadata is the immutable file-transfer header, created once by the
// sender and transmitted once to the receiver.
type Metadata struct {
	FileName   string
	FileType   string
	FileSize   uint64
	ChunkSize  uint64
	ChunkCount uint64
}

// DefaultFileType is used when the caller does not know the file's MIME type.
const DefaultFileType = "application/octet-stream"

// NewMetadata builds a Metadata record, computing ChunkCount by
// unambiguous ceiling division (spec §9: no extraneous second argument).
func NewMetadata(fileName, fileType string, fileSize, chunkSize uint64) (Metadata, error) {
	if fileName == "" {
		return Metadata{}, errors.New("file name must not be empty")
	}
	if chunkSize < 1 {
		return Metadata{}, errors.New("chunk size must be at least 1")
	}
	if fileType == "" {
		fileType = DefaultFileType
	}
	return Metadata{
		FileName:   fileName,
		FileType:   fileType,
		FileSize:   fileSize,
		ChunkSize:  chunkSize,
		ChunkCount: chunkCount(fileSize, chunkSize),
	}, nil
}

func chunkCount(fileSize, chunkSize uint64) uint64 {
	if fileSize == 0 {
		return 0
	}
	return (fileSize + chunkSize - 1) / chunkSize
}

// Source is the byte-addressable file a Chunker reads chunks from.
type Source interface {
	io.ReaderAt
}

// Chunker produces chunk wire forms and digests from a Source,
// stateless modulo the source itself: repeated calls with the same n
// return byte-identical results.
type Chunker struct {
	meta    Metadata
	source  Source
	started bool
}

// New creates a Chunker over source using meta's chunk geometry.
func New(source Source, meta Metadata) *Chunker {
	return &Chunker{meta: meta, source: source}
}

// Metadata returns the Chunker's current metadata.
func (c *Chunker) Metadata() Metadata {
	return c.meta
}

// SetChunkSize rewrites ChunkSize and recomputes ChunkCount. Only valid
// before the first Produce call.
func (c *Chunker) SetChunkSize(chunkSize uint64) error {
	if c.started {
		return ErrChunkSizeFrozen
	}
	if chunkSize < 1 {
		return errors.New("chunk size must be at least 1")
	}
	c.meta.ChunkSize = chunkSize
	c.meta.ChunkCount = chunkCount(c.meta.FileSize, chunkSize)
	return nil
}

// Produce reads the byte range of the n-th chunk (1-indexed), encodes
// it as standard Base64, and returns that wire form along with the
// lowercase-hex SHA-256 digest of the wire-form text.
func (c *Chunker) Produce(n uint64) (wireForm string, digest string, err error) {
	if n < 1 || n > c.meta.ChunkCount {
		return "", "", fmt.Errorf("%w: %d (chunk count %d)", ErrChunkOutOfRange, n, c.meta.ChunkCount)
	}
	c.started = true

	start := (n - 1) * c.meta.ChunkSize
	end := n * c.meta.ChunkSize
	if end > c.meta.FileSize {
		end = c.meta.FileSize
	}

	raw := make([]byte, end-start)
	if len(raw) > 0 {
		if _, err := c.source.ReadAt(raw, int64(start)); err != nil && err != io.EOF {
			return "", "", fmt.Errorf("reading chunk %d: %w", n, err)
		}
	}

	wireForm = base64.StdEncoding.EncodeToString(raw)
	digest = Digest(wireForm)
	return wireForm, digest, nil
}

// Digest computes the protocol digest of a chunk's wire form: the
// lowercase-hex SHA-256 of the Base64 text itself (spec §6).
func Digest(wireForm string) string {
	sum := sha256.Sum256([]byte(wireForm))
	return hex.EncodeToString(sum[:])
}

// Decode reverses the Base64 encoding a wire form carries.
func Decode(wireForm string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(wireForm)
}
