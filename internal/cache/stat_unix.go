//go:build unix

package cache

import "syscall"

// statT aliases the platform stat struct os.FileInfo.Sys() returns, so
// StillCurrent's inode comparison stays in one place instead of an
// unsafe-pointer cast at each call site.
type statT = syscall.Stat_t
