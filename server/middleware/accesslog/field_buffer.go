package accesslog

import (
	"bytes"
	"strings"
)

const defaultBufferSize = 1 << 8

// FieldBuffer accumulates access-log fields separated by sep, adapted
// from the teacher's server/mod/field_buffer.go (same separator-joined
// line format, renamed out of the CDN-product's "mod" package).
type FieldBuffer struct {
	data bytes.Buffer
	sep  byte
}

// NewFieldBuffer starts an empty buffer joined by sep.
func NewFieldBuffer(sep byte) *FieldBuffer {
	var b bytes.Buffer
	b.Grow(defaultBufferSize)
	return &FieldBuffer{data: b, sep: sep}
}

// Append adds s verbatim (save for the "-" empty placeholder).
func (b *FieldBuffer) Append(s string) {
	b.append(s, false)
}

// FAppend adds s with spaces replaced by "+", for fields that themselves
// contain spaces (URLs, user-agents).
func (b *FieldBuffer) FAppend(s string) {
	b.append(s, true)
}

// Bytes returns the accumulated line.
func (b *FieldBuffer) Bytes() []byte {
	return b.data.Bytes()
}

// String returns the accumulated line.
func (b *FieldBuffer) String() string {
	return b.data.String()
}

func (b *FieldBuffer) append(s string, rep bool) {
	s = emptyWrap(s)
	if rep {
		s = strings.ReplaceAll(s, " ", "+")
	}
	if b.data.Len() > 0 {
		b.data.WriteByte(b.sep)
	}
	b.data.WriteString(s)
}

func emptyWrap(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
