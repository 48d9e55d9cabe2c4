//go:build !linux

// Package preflight provides system requirement checks for the btrfs
// snapshot backend.
package preflight

import "github.com/containerd/errdefs"

// MinKernelVersion is the oldest kernel with a usable btrfs send ioctl.
const MinKernelVersion = "3.6"

// Check runs all preflight checks.
// On non-Linux platforms, this returns ErrNotImplemented.
func Check(root string) error {
	return errdefs.ErrNotImplemented
}

// KernelVersion returns the current kernel version.
func KernelVersion() (string, error) {
	return "", errdefs.ErrNotImplemented
}

// CompareVersions compares two version strings.
func CompareVersions(v1, v2 string) (int, error) {
	return 0, errdefs.ErrNotImplemented
}

// CheckKernelVersion checks if the running kernel meets the minimum version requirement.
func CheckKernelVersion(minVersion string) error {
	return errdefs.ErrNotImplemented
}

// CheckBtrfsSupport checks if the btrfs filesystem is available.
func CheckBtrfsSupport() error {
	return errdefs.ErrNotImplemented
}
