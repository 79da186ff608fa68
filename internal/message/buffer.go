// Package message lays out the reusable upload datagram:
// identity prelude followed by the chunk region.
//
//	[ version\0 ][ project_key\0 ][ serial\0 ][ chunk bytes ]
//
// Buffer is built once, only the chunk region is rewritten afterwards.
package message

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

const (
	SectionVersion    = "version_prefix"
	SectionProjectKey = "project_key"
	SectionSerial     = "device_serial"
	SectionChunk      = "chunk"
)

// Section is a named run of bytes appended to the prelude verbatim.
type Section struct {
	Name string
	Data []byte
}

// CString returns NUL terminated section, terminator counts towards length.
func CString(name, s string) Section {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return Section{Name: name, Data: b}
}

// BufferTooSmallError is returned instead of truncating a section.
type BufferTooSmallError struct {
	Section   string
	Need      int
	Remaining int
}

func (e BufferTooSmallError) Error() string {
	return fmt.Sprintf("buffer too small for section=%s need=%d remaining=%d", e.Section, e.Need, e.Remaining)
}

// IsBufferTooSmall reports section name if err (possibly annotated) is BufferTooSmallError.
func IsBufferTooSmall(err error) (string, bool) {
	if e, ok := errors.Cause(err).(BufferTooSmallError); ok {
		return e.Section, true
	}
	return "", false
}

// ChunkSection is a view into the chunk region.
type ChunkSection struct {
	Offset   int
	Capacity int
}

type Buffer struct {
	storage []byte
	prelude int
}

// Build writes sections in order and reserves the rest for chunks.
// Prelude must leave at least one byte for the chunk region.
func Build(capacity int, sections ...Section) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.NotValidf("buffer capacity=%d", capacity)
	}
	storage := make([]byte, capacity)
	cursor := 0
	for _, s := range sections {
		remaining := capacity - cursor
		// >= keeps chunk region non-empty
		if len(s.Data) >= remaining {
			return nil, errors.Trace(BufferTooSmallError{Section: s.Name, Need: len(s.Data), Remaining: remaining})
		}
		cursor += copy(storage[cursor:], s.Data)
	}
	return &Buffer{storage: storage, prelude: cursor}, nil
}

func (b *Buffer) Capacity() int   { return len(b.storage) }
func (b *Buffer) PreludeLen() int { return b.prelude }

// Prelude is read-only by convention.
func (b *Buffer) Prelude() []byte { return b.storage[:b.prelude] }

func (b *Buffer) ChunkSection() ChunkSection {
	return ChunkSection{Offset: b.prelude, Capacity: len(b.storage) - b.prelude}
}

// ChunkRegion is the writable suffix, full capacity, for the chunk source.
func (b *Buffer) ChunkRegion() []byte {
	return b.storage[b.prelude:len(b.storage):len(b.storage)]
}

// Datagram returns prelude followed by the first n chunk region bytes.
// Shares storage with the buffer, valid until next chunk region write.
func (b *Buffer) Datagram(n int) ([]byte, error) {
	cs := b.ChunkSection()
	if n < 0 || n > cs.Capacity {
		return nil, errors.Trace(BufferTooSmallError{Section: SectionChunk, Need: n, Remaining: cs.Capacity})
	}
	return b.storage[:cs.Offset+n], nil
}

func (b *Buffer) String() string {
	cs := b.ChunkSection()
	return fmt.Sprintf("capacity=%d prelude=%d chunk_offset=%d chunk_capacity=%d prelude_fields=%s",
		b.Capacity(), b.prelude, cs.Offset, cs.Capacity, strings.Join(splitFields(b.Prelude()), "|"))
}

func splitFields(b []byte) []string {
	ss := strings.Split(string(b), "\x00")
	if len(ss) > 0 && ss[len(ss)-1] == "" {
		ss = ss[:len(ss)-1]
	}
	return ss
}
