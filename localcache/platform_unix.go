//go:build unix

package localcache

import (
	"os"
	"syscall"
)

// sameDevice reports whether the file at srcPath and the directory at
// dstDir live on the same filesystem, which os.Link requires. Any stat
// failure is treated as "no", so callers fall back to copying rather than
// attempting a hard link that would fail anyway.
func sameDevice(srcPath, dstDir string) bool {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return false
	}
	dstInfo, err := os.Stat(dstDir)
	if err != nil {
		return false
	}
	srcStat, ok := srcInfo.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	dstStat, ok := dstInfo.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return srcStat.Dev == dstStat.Dev
}
