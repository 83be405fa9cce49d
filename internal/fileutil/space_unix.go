//go:build !windows

package fileutil

import (
	"errors"

	"golang.org/x/sys/unix"
)

// FreeBytes reports the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// IsDiskFull reports whether err means the filesystem ran out of space or quota.
func IsDiskFull(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT)
}

func isCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
