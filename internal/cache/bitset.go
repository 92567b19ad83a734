package cache

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned by Bitset operations when the index falls
// outside [0, Size).
var ErrOutOfRange = errors.New("cache: index out of range")

// Bitset is a dense, fixed-capacity bit array used as the block-presence
// map inside a BlockCacheFile. Bit i lives at byte i/8, bit i%8.
type Bitset struct {
	size uint64
	bits []byte
}

// NewBitset allocates a Bitset with capacity for size bits, all clear.
func NewBitset(size uint64) *Bitset {
	return &Bitset{
		size: size,
		bits: make([]byte, (size+7)/8),
	}
}

// BitsetFromBytes wraps an existing serialized form. The caller guarantees
// len(b) == ⌈size/8⌉; this is only ever invoked just after a header read,
// where that length was itself derived from size.
func BitsetFromBytes(size uint64, b []byte) *Bitset {
	return &Bitset{size: size, bits: b}
}

// Size returns the bit capacity.
func (s *Bitset) Size() uint64 {
	return s.size
}

// Bytes returns the serialized form, length ⌈Size/8⌉. The returned slice
// aliases the Bitset's internal storage.
func (s *Bitset) Bytes() []byte {
	return s.bits
}

func (s *Bitset) checkRange(index uint64) error {
	if index >= s.size {
		return fmt.Errorf("%w: index %d, size %d", ErrOutOfRange, index, s.size)
	}
	return nil
}

// Set sets bit index to 1.
func (s *Bitset) Set(index uint64) error {
	if err := s.checkRange(index); err != nil {
		return err
	}
	s.bits[index/8] |= 1 << (index % 8)
	return nil
}

// Clear sets bit index to 0.
func (s *Bitset) Clear(index uint64) error {
	if err := s.checkRange(index); err != nil {
		return err
	}
	s.bits[index/8] &^= 1 << (index % 8)
	return nil
}

// Test reports whether bit index is set.
func (s *Bitset) Test(index uint64) (bool, error) {
	if err := s.checkRange(index); err != nil {
		return false, err
	}
	return s.bits[index/8]&(1<<(index%8)) != 0, nil
}

// String renders a diagnostic (not wire-format) view: one '0'/'1' char per
// bit, least-significant bit of each byte first, matching the Python
// reference's bin-reversed-per-byte rendering.
func (s *Bitset) String() string {
	out := make([]byte, 0, len(s.bits)*8)
	for _, b := range s.bits {
		for i := 0; i < 8; i++ {
			if b&(1<<uint(i)) != 0 {
				out = append(out, '1')
			} else {
				out = append(out, '0')
			}
		}
	}
	return string(out)
}
