// Package cache implements the block-addressable large-file cache
// container (BlockCacheFile) and its supporting presence map (Bitset) and
// range arithmetic (RangeMath).
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	// CurrentVersion is the container format version. A mismatched
	// version on open is a hard error (see olah_cache.py's
	// CURRENT_OLAH_CACHE_VERSION).
	CurrentVersion = 8

	// DefaultBlockMaskBits is the fixed bit capacity of the presence map
	// for newly created containers: 2^20 blocks.
	DefaultBlockMaskBits = 1024 * 1024

	// DefaultBlockSize is used when a caller opens without a size hint.
	DefaultBlockSize = 8 * 1024 * 1024

	magicNumber   = "OLAH"
	headerFixSize = 36 // 4 magic + 8 version + 8 block_size + 8 file_size + 8 mask_bits
)

var (
	ErrNotOpen      = errors.New("cache: container is not open")
	ErrBadIndex     = errors.New("cache: block index out of range")
	ErrBadMagic     = errors.New("cache: not a block cache file")
	ErrBadVersion   = errors.New("cache: incompatible container version")
	ErrCapacity     = errors.New("cache: file_size exceeds container capacity")
	ErrSizeMismatch = errors.New("cache: write_block buffer size mismatch")
	ErrShrink       = errors.New("cache: file_size must be monotonically non-decreasing")
)

// header is the fixed-part-plus-mask metadata block that precedes the N·B
// block slots on disk. version, blockSize and maskBits never change after
// create; fileSize only grows.
type header struct {
	version   uint64
	blockSize uint64
	fileSize  uint64
	maskBits  uint64
	mask      *Bitset
}

func (h *header) blockNumber() uint64 {
	if h.blockSize == 0 {
		return 0
	}
	return (h.fileSize + h.blockSize - 1) / h.blockSize
}

func (h *header) size() int {
	return headerFixSize + len(h.mask.Bytes())
}

func (h *header) validate() error {
	if h.fileSize > h.maskBits*h.blockSize {
		return fmt.Errorf("%w: file_size %d over capacity %d*%d", ErrCapacity, h.fileSize, h.maskBits, h.blockSize)
	}
	if h.version != CurrentVersion {
		return fmt.Errorf("%w: container version %d, expected %d", ErrBadVersion, h.version, CurrentVersion)
	}
	return nil
}

func readHeader(f *os.File) (*header, error) {
	buf := make([]byte, headerFixSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if string(buf[0:4]) != magicNumber {
		return nil, ErrBadMagic
	}
	h := &header{
		version:   binary.LittleEndian.Uint64(buf[4:12]),
		blockSize: binary.LittleEndian.Uint64(buf[12:20]),
		fileSize:  binary.LittleEndian.Uint64(buf[20:28]),
		maskBits:  binary.LittleEndian.Uint64(buf[28:36]),
	}
	maskLen := (h.maskBits + 7) / 8
	maskBytes := make([]byte, maskLen)
	if maskLen > 0 {
		if _, err := f.ReadAt(maskBytes, headerFixSize); err != nil {
			return nil, fmt.Errorf("cache: reading block mask: %w", err)
		}
	}
	h.mask = BitsetFromBytes(h.maskBits, maskBytes)
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *header) write(f *os.File) error {
	buf := make([]byte, headerFixSize)
	copy(buf[0:4], magicNumber)
	binary.LittleEndian.PutUint64(buf[4:12], h.version)
	binary.LittleEndian.PutUint64(buf[12:20], h.blockSize)
	binary.LittleEndian.PutUint64(buf[20:28], h.fileSize)
	binary.LittleEndian.PutUint64(buf[28:36], h.maskBits)
	if _, err := f.WriteAt(buf, 0); err != nil {
		return err
	}
	if _, err := f.WriteAt(h.mask.Bytes(), headerFixSize); err != nil {
		return err
	}
	return nil
}

// BlockCacheFile is the on-disk container: a fixed header and presence
// bitset followed by N fixed-size block slots. See spec §3 for the exact
// on-disk layout.
//
// The header/mask lock is scoped narrowly to mutation of those bytes; it
// is never held across file or network I/O (spec §5, §9 "Locking scope").
type BlockCacheFile struct {
	path string
	file *os.File

	mu     sync.Mutex
	header *header
	closed bool

	prefetchBlocks int
	prefetchMu     sync.Mutex
	prefetch       map[uint64][]byte
}

// Option configures a BlockCacheFile at Open time.
type Option func(*BlockCacheFile)

// WithPrefetch enables the optional read-ahead cache described in
// SPEC_FULL.md §5 (grounded on olah_cache.py's read_block prefetch),
// reading up to n subsequent blocks into memory on a cold read and
// clearing entries on write. Disabled (n=0) by default.
func WithPrefetch(n int) Option {
	return func(b *BlockCacheFile) { b.prefetchBlocks = n }
}

// Open opens an existing container at path, or creates one with the given
// block size hint if none exists yet.
func Open(path string, blockSizeHint uint64, opts ...Option) (*BlockCacheFile, error) {
	if blockSizeHint == 0 {
		blockSizeHint = DefaultBlockSize
	}

	b := &BlockCacheFile{path: path, prefetch: make(map[uint64][]byte)}
	for _, opt := range opts {
		opt(b)
	}

	if _, err := os.Stat(path); err == nil {
		f, err := os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cache: open %s: %w", path, err)
		}
		h, err := readHeader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		b.file = f
		b.header = h
	} else if errors.Is(err, os.ErrNotExist) {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cache: create %s: %w", path, err)
		}
		h := &header{
			version:   CurrentVersion,
			blockSize: blockSizeHint,
			fileSize:  0,
			maskBits:  DefaultBlockMaskBits,
			mask:      NewBitset(DefaultBlockMaskBits),
		}
		if err := h.write(f); err != nil {
			f.Close()
			return nil, err
		}
		b.file = f
		b.header = h
	} else {
		return nil, err
	}

	return b, nil
}

// Close flushes the header and releases the file handle.
func (b *BlockCacheFile) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrNotOpen
	}
	err := b.flushHeaderLocked()
	closeErr := b.file.Close()
	b.closed = true
	if err != nil {
		return err
	}
	return closeErr
}

func (b *BlockCacheFile) flushHeaderLocked() error {
	return b.header.write(b.file)
}

// Flush persists the header/mask without closing.
func (b *BlockCacheFile) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrNotOpen
	}
	return b.flushHeaderLocked()
}

// FileSize returns the logical resource size S.
func (b *BlockCacheFile) FileSize() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.header.fileSize
}

// BlockSize returns B, fixed at create time.
func (b *BlockCacheFile) BlockSize() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.header.blockSize
}

// BlockNumber returns N = ceil(S/B).
func (b *BlockCacheFile) BlockNumber() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.header.blockNumber()
}

func (b *BlockCacheFile) headerSize() int {
	return b.header.size()
}

// Resize grows the logical file size to fileSize. May only grow; resizing
// is idempotent if fileSize already matches. Fails with ErrCapacity if the
// resulting block count would exceed the mask's bit capacity.
func (b *BlockCacheFile) Resize(fileSize uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrNotOpen
	}
	if fileSize == b.header.fileSize {
		return nil
	}
	if fileSize < b.header.fileSize {
		return ErrShrink
	}

	newBlockNumber := (fileSize + b.header.blockSize - 1) / b.header.blockSize
	if newBlockNumber > b.header.maskBits {
		return fmt.Errorf("%w: %d blocks over %d bit capacity", ErrCapacity, newBlockNumber, b.header.maskBits)
	}

	newBinSize := int64(b.headerSize()) + int64(fileSize)
	if err := b.file.Truncate(newBinSize); err != nil {
		return fmt.Errorf("cache: resize truncate: %w", err)
	}

	b.header.fileSize = fileSize
	if err := b.header.validate(); err != nil {
		return err
	}
	return b.flushHeaderLocked()
}

// HasBlock reports whether block i is populated. False for i >= N.
func (b *BlockCacheFile) HasBlock(i uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	if i >= b.header.blockNumber() {
		return false
	}
	ok, err := b.header.mask.Test(i)
	return err == nil && ok
}

func (b *BlockCacheFile) padBlock(raw []byte, blockSize uint64) []byte {
	if uint64(len(raw)) >= blockSize {
		return raw
	}
	out := make([]byte, blockSize)
	copy(out, raw)
	return out
}

// ReadBlock returns exactly BlockSize() bytes if block i is populated, or
// (nil, nil) if it is not. The last block is zero-padded to BlockSize();
// callers truncate against FileSize() themselves.
func (b *BlockCacheFile) ReadBlock(i uint64) ([]byte, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrNotOpen
	}
	blockNumber := b.header.blockNumber()
	if i >= blockNumber {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %d >= %d", ErrBadIndex, i, blockNumber)
	}
	blockSize := b.header.blockSize
	hdrSize := int64(b.headerSize())
	hasBlock, _ := b.header.mask.Test(i)
	b.mu.Unlock()

	if b.prefetchBlocks > 0 {
		b.prefetchMu.Lock()
		if cached, ok := b.prefetch[i]; ok {
			delete(b.prefetch, i)
			b.prefetchMu.Unlock()
			if cached == nil {
				return nil, nil
			}
			return cached, nil
		}
		b.prefetchMu.Unlock()
	}

	if !hasBlock {
		return nil, nil
	}

	offset := hdrSize + int64(i*blockSize)
	raw := make([]byte, blockSize)
	n, err := b.file.ReadAt(raw, offset)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("cache: read block %d: %w", i, err)
	}
	block := b.padBlock(raw[:n], blockSize)

	if b.prefetchBlocks > 0 {
		b.prefetch[i] = block
		b.prefetchAheadOf(i, blockNumber, blockSize, hdrSize)
	}

	return block, nil
}

// prefetchAheadOf opportunistically warms the next prefetchBlocks entries,
// matching olah_cache.py's read_block prefetch. Populated blocks are read
// and cached; unpopulated ones are recorded as a cached "miss" so a
// subsequent ReadBlock doesn't re-check the mask redundantly.
func (b *BlockCacheFile) prefetchAheadOf(i, blockNumber, blockSize uint64, hdrSize int64) {
	b.mu.Lock()
	mask := b.header.mask
	b.mu.Unlock()

	b.prefetchMu.Lock()
	defer b.prefetchMu.Unlock()
	for off := uint64(1); off <= uint64(b.prefetchBlocks); off++ {
		idx := i + off
		if idx >= blockNumber {
			break
		}
		if _, already := b.prefetch[idx]; already {
			continue
		}
		ok, _ := mask.Test(idx)
		if !ok {
			b.prefetch[idx] = nil
			continue
		}
		raw := make([]byte, blockSize)
		offset := hdrSize + int64(idx*blockSize)
		n, err := b.file.ReadAt(raw, offset)
		if err != nil && n == 0 {
			continue
		}
		b.prefetch[idx] = b.padBlock(raw[:n], blockSize)
	}
}

// WriteBlock persists exactly block i. block must be exactly BlockSize()
// bytes; if i is the last block and S mod B != 0, only the valid tail is
// written to disk. The mask bit is set and the header flushed.
// WriteBlock is idempotent.
func (b *BlockCacheFile) WriteBlock(i uint64, block []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrNotOpen
	}
	blockNumber := b.header.blockNumber()
	if i >= blockNumber {
		return fmt.Errorf("%w: %d >= %d", ErrBadIndex, i, blockNumber)
	}
	if uint64(len(block)) != b.header.blockSize {
		return fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, len(block), b.header.blockSize)
	}

	offset := int64(b.headerSize()) + int64(i*b.header.blockSize)
	validTail := block
	if (i+1)*b.header.blockSize > b.header.fileSize {
		validLen := b.header.fileSize - i*b.header.blockSize
		validTail = block[:validLen]
	}
	if _, err := b.file.WriteAt(validTail, offset); err != nil {
		return fmt.Errorf("cache: write block %d: %w", i, err)
	}

	if err := b.header.mask.Set(i); err != nil {
		return err
	}
	if err := b.flushHeaderLocked(); err != nil {
		return err
	}

	if b.prefetchBlocks > 0 {
		b.prefetchMu.Lock()
		delete(b.prefetch, i)
		b.prefetchMu.Unlock()
	}
	return nil
}

// Touch bumps the container's access time so LRU-policy eviction reflects
// this use, without disturbing its modify time. Mirrors
// disk_utils.touch_file_access_time.
func (b *BlockCacheFile) Touch() error {
	now := time.Now()
	info, err := b.file.Stat()
	if err != nil {
		return err
	}
	return os.Chtimes(b.path, now, modTimeOf(info))
}

func modTimeOf(info os.FileInfo) time.Time {
	return info.ModTime()
}

// Path returns the container's filesystem path.
func (b *BlockCacheFile) Path() string {
	return b.path
}
