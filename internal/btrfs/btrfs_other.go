//go:build !linux

package btrfs

import "github.com/containerd/errdefs"

// SendFlagNoFileData asks the kernel to emit update_extent records instead of
// file payloads.
const SendFlagNoFileData = 1 << 0

// SendRequest describes one incremental send.
type SendRequest struct {
	WriteFD      int
	ParentRoot   uint64
	CloneSources []uint64
	Flags        uint64
}

// IsSubvolumeReadOnly queries the read-only flag of a subvolume.
func IsSubvolumeReadOnly(fd int) (bool, error) {
	return false, errdefs.ErrNotImplemented
}

// SubvolumeID returns the root id of the subvolume containing fd.
func SubvolumeID(fd int) (uint64, error) {
	return 0, errdefs.ErrNotImplemented
}

// CreateSubvolume creates an empty subvolume.
func CreateSubvolume(fd int, name string) error {
	return errdefs.ErrNotImplemented
}

// CreateSnapshot snapshots a subvolume.
func CreateSnapshot(srcFD, dstFD int, name string, readOnly bool) error {
	return errdefs.ErrNotImplemented
}

// DeleteSubvolume removes a subvolume.
func DeleteSubvolume(fd int, name string) error {
	return errdefs.ErrNotImplemented
}

// Send issues the blocking send ioctl.
func Send(fd int, req SendRequest) error {
	return errdefs.ErrNotImplemented
}

// NewSubvolumeIndex enumerates the subvolumes of the filesystem containing fd.
func NewSubvolumeIndex(fd int, name string) (*SubvolumeIndex, error) {
	return nil, errdefs.ErrNotImplemented
}
