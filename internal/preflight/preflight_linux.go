// Package preflight provides system requirement checks for the btrfs
// snapshot backend.
package preflight

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/containerd/continuity/fs"
	"golang.org/x/sys/unix"
)

// MinKernelVersion is the oldest kernel with a usable btrfs send ioctl.
const MinKernelVersion = "3.6"

// Check runs all preflight checks against the filesystem holding root.
// Call it early in main() to fail fast.
func Check(root string) error {
	if err := CheckKernelVersion(MinKernelVersion); err != nil {
		return err
	}
	if err := CheckBtrfsSupport(); err != nil {
		return err
	}
	if root == "" {
		return nil
	}
	supported, err := fs.SupportsDType(root)
	if err != nil {
		return fmt.Errorf("check d_type support of %s: %w", root, err)
	}
	if !supported {
		return fmt.Errorf("%s does not report d_type in directory entries", root)
	}
	return nil
}

// KernelVersion returns the running kernel release, e.g. "6.8.0-generic".
func KernelVersion() (string, error) {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return "", fmt.Errorf("uname failed: %w", err)
	}
	return unix.ByteSliceToString(uname.Release[:]), nil
}

// kernelRelease is a parsed kernel version.
type kernelRelease struct {
	major, minor, patch int
}

// parseRelease parses strings like "6.8.0", "6.8.0-rc1" or "6.8.0-generic",
// ignoring everything after the numeric components.
func parseRelease(version string) (kernelRelease, error) {
	version, _, _ = strings.Cut(version, "-")

	nums := strings.Split(version, ".")
	if len(nums) < 2 {
		return kernelRelease{}, fmt.Errorf("invalid kernel version %q", version)
	}

	var r kernelRelease
	var err error
	if r.major, err = strconv.Atoi(nums[0]); err != nil {
		return kernelRelease{}, fmt.Errorf("invalid major version %q", nums[0])
	}
	if r.minor, err = strconv.Atoi(nums[1]); err != nil {
		return kernelRelease{}, fmt.Errorf("invalid minor version %q", nums[1])
	}
	if len(nums) >= 3 {
		digits := nums[2]
		for i, c := range digits {
			if c < '0' || c > '9' {
				digits = digits[:i]
				break
			}
		}
		if digits != "" {
			r.patch, _ = strconv.Atoi(digits)
		}
	}
	return r, nil
}

func (r kernelRelease) compare(o kernelRelease) int {
	switch {
	case r.major != o.major:
		if r.major < o.major {
			return -1
		}
		return 1
	case r.minor != o.minor:
		if r.minor < o.minor {
			return -1
		}
		return 1
	case r.patch != o.patch:
		if r.patch < o.patch {
			return -1
		}
		return 1
	}
	return 0
}

// CompareVersions compares two kernel version strings. It returns -1, 0 or 1
// as v1 is older than, equal to or newer than v2.
func CompareVersions(v1, v2 string) (int, error) {
	r1, err := parseRelease(v1)
	if err != nil {
		return 0, err
	}
	r2, err := parseRelease(v2)
	if err != nil {
		return 0, err
	}
	return r1.compare(r2), nil
}

// CheckKernelVersion verifies the running kernel is at least minVersion.
func CheckKernelVersion(minVersion string) error {
	current, err := KernelVersion()
	if err != nil {
		return err
	}
	cmp, err := CompareVersions(current, minVersion)
	if err != nil {
		return err
	}
	if cmp < 0 {
		return fmt.Errorf("kernel %s is older than the required %s", current, minVersion)
	}
	return nil
}

// CheckBtrfsSupport verifies the btrfs filesystem is registered with the
// kernel.
func CheckBtrfsSupport() error {
	data, err := os.ReadFile("/proc/filesystems")
	if err != nil {
		return fmt.Errorf("read /proc/filesystems: %w", err)
	}
	if !bytes.Contains(data, []byte("\tbtrfs\n")) {
		return fmt.Errorf("btrfs is not registered in /proc/filesystems")
	}
	return nil
}
