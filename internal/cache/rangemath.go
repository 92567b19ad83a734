package cache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadRange is returned for a Range header that doesn't parse.
var ErrBadRange = errors.New("cache: invalid range header")

// Range is a half-open byte interval [Start, End) into a resource,
// matching this package's internal convention (spec's Design Notes pin
// the wire format to inclusive-inclusive per HTTP, translated here to
// half-open on the way in).
type Range struct {
	Start int64
	End   int64 // exclusive
}

// Len returns End - Start.
func (r Range) Len() int64 {
	return r.End - r.Start
}

// ContentRange renders "bytes start-end/size" using inclusive wire
// semantics (end-1).
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End-1, size)
}

// WireHeader renders a "bytes=start-end" request range for an upstream
// fetch, end inclusive, matching HTTP wire convention.
func (r Range) WireHeader() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

// ParseRange parses an HTTP "Range: bytes=a-b" header against a known
// total size, returning the half-open [start, end) interval it denotes.
//
//   - missing a -> 0
//   - missing b (i.e. "a-") -> size-1 (serve to end)
//   - suffix form "-k" -> (size-k, size-1)
//   - end is clamped to size-1
//
// size == 0 is a degenerate case: ParseRange returns {0, 0} for any header,
// without validating it, since there is nothing to serve.
func ParseRange(header string, size int64) (Range, error) {
	if size == 0 {
		return Range{Start: 0, End: 0}, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return Range{}, fmt.Errorf("%w: missing bytes= prefix", ErrBadRange)
	}
	if strings.Contains(spec, ",") {
		return Range{}, fmt.Errorf("%w: multi-range not supported", ErrBadRange)
	}
	spec = strings.TrimSpace(spec)

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return Range{}, fmt.Errorf("%w: no '-' in range spec", ErrBadRange)
	}

	startStr, endStr := spec[:dash], spec[dash+1:]

	if startStr == "" {
		// suffix form: "-k" -> last k bytes
		if endStr == "" {
			return Range{}, fmt.Errorf("%w: empty range spec", ErrBadRange)
		}
		k, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || k < 0 {
			return Range{}, fmt.Errorf("%w: bad suffix length %q", ErrBadRange, endStr)
		}
		start := size - k
		if start < 0 {
			start = 0
		}
		return Range{Start: start, End: size}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return Range{}, fmt.Errorf("%w: bad start %q", ErrBadRange, startStr)
	}
	if start >= size {
		return Range{}, fmt.Errorf("%w: start %d beyond size %d", ErrBadRange, start, size)
	}

	var end int64
	if endStr == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return Range{}, fmt.Errorf("%w: bad end %q", ErrBadRange, endStr)
		}
	}
	if end > size-1 {
		end = size - 1
	}

	return Range{Start: start, End: end + 1}, nil
}

// BlockInfo describes the block a byte position falls in: its index, and
// the block's own [start, end) extent clamped to the resource size.
type BlockInfo struct {
	Index uint64
	Start int64
	End   int64
}

// BlockOf computes (index, block_start, block_end) for a position, given
// block size B and total size S. block_end = min((index+1)*B, S).
func BlockOf(pos int64, blockSize uint64, size int64) BlockInfo {
	idx := uint64(pos) / blockSize
	bs := int64(idx) * int64(blockSize)
	be := bs + int64(blockSize)
	if be > size {
		be = size
	}
	return BlockInfo{Index: idx, Start: bs, End: be}
}

// Run is one maximal contiguous sub-range of a [lo, hi) request that is
// entirely cached or entirely remote, at block granularity.
type Run struct {
	Start    int64
	End      int64 // exclusive
	IsRemote bool
}

// BlockPresence is the minimal surface ContiguousRanges needs from a
// cache container: whether block i is populated, and the container's
// block size. *BlockCacheFile satisfies this.
type BlockPresence interface {
	HasBlock(i uint64) bool
	BlockSize() uint64
}

// ContiguousRanges walks [lo, hi) block by block and returns a minimal,
// ordered list of runs labeled cached/remote, flipping IsRemote whenever
// cache.HasBlock changes for the block a position falls in. The runs
// cover [lo, hi) exactly once, in ascending order, and never overlap.
func ContiguousRanges(c BlockPresence, lo, hi int64) []Run {
	if lo >= hi {
		return nil
	}
	blockSize := c.BlockSize()

	var runs []Run
	pos := lo
	for pos < hi {
		idx := uint64(pos) / blockSize
		blockEnd := int64(idx+1) * int64(blockSize)
		segEnd := blockEnd
		if segEnd > hi {
			segEnd = hi
		}
		isRemote := !c.HasBlock(idx)

		if len(runs) > 0 && runs[len(runs)-1].IsRemote == isRemote {
			runs[len(runs)-1].End = segEnd
		} else {
			runs = append(runs, Run{Start: pos, End: segEnd, IsRemote: isRemote})
		}
		pos = segEnd
	}
	return runs
}
