package util

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FileInfo contains the file identity used to detect truncation and rotation.
type FileInfo struct {
	Size    int64  // File size in bytes
	Inode   uint64 // Inode number (unique file identifier on Unix-like systems)
	Regular bool   // Whether the path is a regular file
}

// GetFileInfo stats path and returns its size, inode and mode class.
// Supported on Linux and macOS.
func GetFileInfo(path string) (*FileInfo, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	return &FileInfo{
		Size:    st.Size,
		Inode:   uint64(st.Ino),
		Regular: st.Mode&unix.S_IFMT == unix.S_IFREG,
	}, nil
}

// SameFile reports whether two infos describe the same inode.
func (fi *FileInfo) SameFile(other *FileInfo) bool {
	if fi == nil || other == nil {
		return false
	}
	return fi.Inode == other.Inode
}
