package reaper

import (
	"os"
	"syscall"
)

// accessTime returns the file's last-access time in unix nanos, falling
// back to ModTime when the platform's os.FileInfo.Sys() isn't a
// *syscall.Stat_t (no os.Stat_t guarantee outside unix-likes).
func accessTime(info os.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Atim.Sec*int64(1e9) + st.Atim.Nsec
	}
	return info.ModTime().UnixNano()
}
