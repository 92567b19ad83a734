// Package reaper implements DiskReaper (spec §4.7): a periodic,
// size-capped eviction sweep over the cache root's files/ and lfs/files/
// trees, grounded on original_source/src/olah/utils/disk_utils.py's
// get_folder_size / sort_files_by_{access,modify,size}_time.
package reaper

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/vtuber-plan/olah/contrib/log"
)

// Recorder receives eviction observations; internal/metrics implements it.
// A nil Recorder is a valid no-op, matching the teacher's "metrics are
// always optional" posture.
type Recorder interface {
	RecordEviction(bytesReclaimed int64, files int)
}

// Reaper walks ReposPath's files/ and lfs/files/ subtrees and deletes the
// least-wanted files (per Policy) until total size is back under
// SizeLimit. A SizeLimit <= 0 makes every sweep a no-op, per spec §4.7
// step 1 ("If cache_size_limit is unset, no-op").
type Reaper struct {
	ReposPath string
	SizeLimit int64
	Policy    Policy
	Interval  time.Duration

	// GraceWindow excludes files accessed more recently than this from
	// eviction, the spec §5 alternative to reference-counting open
	// containers ("perform deletions only on files whose last-access age
	// exceeds a grace window and rely on readers to tolerate ENOENT").
	GraceWindow time.Duration

	Recorder Recorder
}

// New builds a Reaper with spec-default interval (hourly) and a 5 minute
// grace window, which callers may override on the returned value.
func New(reposPath string, sizeLimit int64, policy Policy) *Reaper {
	return &Reaper{
		ReposPath:   reposPath,
		SizeLimit:   sizeLimit,
		Policy:      policy,
		Interval:    time.Hour,
		GraceWindow: 5 * time.Minute,
	}
}

// Run ticks every Interval until ctx is done, logging but not propagating
// per-sweep errors — a single bad stat shouldn't kill the background
// reaper for the process lifetime.
func (r *Reaper) Run(ctx context.Context) {
	helper := log.Context(ctx)
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, files, err := r.Sweep()
			if err != nil {
				helper.Errorf("reaper: sweep failed: %v", err)
				continue
			}
			if files > 0 {
				helper.Infof("reaper: evicted %d files, reclaimed %d bytes", files, reclaimed)
			}
		}
	}
}

// Sweep performs one eviction pass (spec §4.7 steps 1-5) and returns the
// bytes reclaimed and the number of files deleted.
func (r *Reaper) Sweep() (reclaimed int64, files int, err error) {
	if r.SizeLimit <= 0 {
		return 0, 0, nil
	}

	total, err := folderSize(r.ReposPath)
	if err != nil {
		return 0, 0, err
	}
	if total <= r.SizeLimit {
		return 0, 0, nil
	}

	candidates, err := collectEligible(r.ReposPath)
	if err != nil {
		return 0, 0, err
	}
	order(r.Policy, candidates)

	now := time.Now()
	for _, c := range candidates {
		if total <= r.SizeLimit {
			break
		}
		if now.Sub(time.Unix(0, c.accessed)) < r.GraceWindow {
			continue
		}
		if err := os.Remove(c.path); err != nil {
			if !os.IsNotExist(err) {
				log.Errorf("reaper: remove %s: %v", c.path, err)
			}
			continue
		}
		total -= c.size
		reclaimed += c.size
		files++
	}

	if r.Recorder != nil && files > 0 {
		r.Recorder.RecordEviction(reclaimed, files)
	}
	return reclaimed, files, nil
}

// folderSize mirrors get_folder_size: the sum of every regular file's
// size anywhere under root.
func folderSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// collectEligible walks files/ and lfs/files/ only — heads/ envelopes and
// api/ metadata are never eviction candidates (spec §4.7 step 3).
func collectEligible(reposPath string) ([]candidate, error) {
	var out []candidate
	for _, sub := range []string{"files", filepath.Join("lfs", "files")} {
		root := filepath.Join(reposPath, sub)
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() {
				return nil
			}
			out = append(out, candidate{
				path:     path,
				size:     info.Size(),
				accessed: accessTime(info),
				modified: info.ModTime().UnixNano(),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
