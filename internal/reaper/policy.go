package reaper

import "sort"

// Policy selects the eviction order DiskReaper deletes candidate files in,
// grounded on original_source/src/olah/utils/disk_utils.py's
// sort_files_by_{access,modify,size}_time (spec §4.7 step 4).
type Policy string

const (
	LRU        Policy = "LRU"
	FIFO       Policy = "FIFO"
	LargeFirst Policy = "LARGE_FIRST"
)

// candidate is one file eligible for eviction.
type candidate struct {
	path     string
	size     int64
	accessed int64 // unix nanos
	modified int64 // unix nanos
}

// order sorts candidates in place per policy: LRU ascending by access
// time, FIFO ascending by modify time, LARGE_FIRST descending by size.
func order(policy Policy, candidates []candidate) {
	switch policy {
	case LRU:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].accessed < candidates[j].accessed })
	case LargeFirst:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].size > candidates[j].size })
	case FIFO:
		fallthrough
	default:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].modified < candidates[j].modified })
	}
}
