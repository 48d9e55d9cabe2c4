package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"

	"github.com/pa-sowa/snapper/internal/btrfs"
	"github.com/pa-sowa/snapper/internal/dirfd"
)

// Manager drives the snapshot lifecycle of one configured subvolume.
type Manager struct {
	subvolume *dirfd.Dir
	registry  *Registry
}

// NewManager opens the subvolume at path and verifies it really is one.
// The registry is optional.
func NewManager(path string, registry *Registry) (*Manager, error) {
	d, err := dirfd.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := d.StatSelf()
	if err != nil {
		d.Close()
		return nil, err
	}
	if !btrfs.IsSubvolume(&st) {
		d.Close()
		return nil, &LifecycleError{
			Code:  ErrCodeNotASubvolume,
			Path:  path,
			Cause: fmt.Errorf("inode %d is not a subvolume root", st.Ino),
		}
	}
	return &Manager{subvolume: d, registry: registry}, nil
}

// Close releases the subvolume handle. The registry, if any, stays open; it
// is owned by the caller.
func (m *Manager) Close() error {
	return m.subvolume.Close()
}

// Subvolume returns the managed subvolume handle.
func (m *Manager) Subvolume() *dirfd.Dir {
	return m.subvolume
}

// CreateConfig creates the .snapshots subvolume and tightens its mode so the
// snapshot inventory is not group-writable or world-accessible.
func (m *Manager) CreateConfig(ctx context.Context) error {
	if err := btrfs.CreateSubvolume(m.subvolume.FD(), infosDirName); err != nil {
		return &LifecycleError{Code: ErrCodeCreateFailed, Path: infosDirName, Cause: err}
	}

	st, err := m.subvolume.Stat(infosDirName)
	if err == nil {
		mode := st.Mode &^ 0o027
		if err := unix.Fchmodat(m.subvolume.FD(), infosDirName, mode&0o7777, 0); err != nil {
			log.G(ctx).WithError(err).Warn("cannot tighten .snapshots mode")
		}
	}
	return nil
}

// DeleteConfig removes the .snapshots subvolume.
func (m *Manager) DeleteConfig(ctx context.Context) error {
	if err := btrfs.DeleteSubvolume(m.subvolume.FD(), infosDirName); err != nil {
		return &LifecycleError{Code: ErrCodeDeleteFailed, Path: infosDirName, Cause: err}
	}
	return nil
}

// openInfosDir opens .snapshots and enforces its ownership policy: owned by
// root, not group-writable unless group root, never world-writable.
func (m *Manager) openInfosDir() (*dirfd.Dir, error) {
	infos, err := dirfd.OpenAt(m.subvolume, infosDirName)
	if err != nil {
		return nil, err
	}

	st, err := infos.StatSelf()
	if err != nil {
		infos.Close()
		return nil, err
	}

	fail := func(cause string) (*dirfd.Dir, error) {
		infos.Close()
		return nil, &LifecycleError{
			Code:  ErrCodePolicy,
			Path:  infosDirName,
			Cause: fmt.Errorf("%s", cause),
		}
	}
	if !btrfs.IsSubvolume(&st) {
		return fail(".snapshots is not a subvolume")
	}
	if st.Uid != 0 {
		return fail(".snapshots must have owner root")
	}
	if st.Gid != 0 && st.Mode&unix.S_IWGRP != 0 {
		return fail(".snapshots must have group root or must not be group-writable")
	}
	if st.Mode&unix.S_IWOTH != 0 {
		return fail(".snapshots must not be world-writable")
	}
	return infos, nil
}

// openInfoDir opens the info directory of snapshot num.
func (m *Manager) openInfoDir(num uint64) (*dirfd.Dir, error) {
	infos, err := m.openInfosDir()
	if err != nil {
		return nil, err
	}
	defer infos.Close()
	return dirfd.OpenAt(infos, filepath.Base(infoDir(num)))
}

// OpenSnapshotDir opens the snapshot subvolume of snapshot num. The handle
// is what the diff core takes as dir1/dir2.
func (m *Manager) OpenSnapshotDir(num uint64) (*dirfd.Dir, error) {
	info, err := m.openInfoDir(num)
	if err != nil {
		return nil, err
	}
	defer info.Close()
	return dirfd.OpenAt(info, snapshotDirName)
}

// Create snapshots the subvolume (or, when parent is non-zero, the snapshot
// of parent) into .snapshots/<num>/snapshot.
func (m *Manager) Create(ctx context.Context, num, parent uint64, readOnly bool, description string) error {
	infos, err := m.openInfosDir()
	if err != nil {
		return err
	}
	defer infos.Close()

	name := filepath.Base(infoDir(num))
	if err := unix.Mkdirat(infos.FD(), name, 0o755); err != nil && err != unix.EEXIST {
		return &LifecycleError{Code: ErrCodeCreateFailed, Num: num, Path: infoDir(num), Cause: err}
	}
	info, err := dirfd.OpenAt(infos, name)
	if err != nil {
		return err
	}
	defer info.Close()

	src := m.subvolume
	if parent != 0 {
		parentDir, err := m.OpenSnapshotDir(parent)
		if err != nil {
			return err
		}
		defer parentDir.Close()
		src = parentDir
	}

	if err := btrfs.CreateSnapshot(src.FD(), info.FD(), snapshotDirName, readOnly); err != nil {
		return &LifecycleError{Code: ErrCodeCreateFailed, Num: num, Path: snapshotDir(num), Cause: err}
	}

	log.G(ctx).WithFields(log.Fields{
		"num":      num,
		"parent":   parent,
		"readonly": readOnly,
	}).Debug("snapshot created")

	if m.registry != nil {
		return m.registry.Put(Record{
			Num:         num,
			Parent:      parent,
			ReadOnly:    readOnly,
			CreatedAt:   time.Now().UTC(),
			Description: description,
		})
	}
	return nil
}

// Delete removes the snapshot subvolume of num and its registry record. The
// info directory is left for the caller's bookkeeping sweep.
func (m *Manager) Delete(ctx context.Context, num uint64) error {
	info, err := m.openInfoDir(num)
	if err != nil {
		return err
	}
	defer info.Close()

	if err := btrfs.DeleteSubvolume(info.FD(), snapshotDirName); err != nil {
		return &LifecycleError{Code: ErrCodeDeleteFailed, Num: num, Path: snapshotDir(num), Cause: err}
	}

	log.G(ctx).WithField("num", num).Debug("snapshot deleted")

	if m.registry != nil {
		return m.registry.Delete(num)
	}
	return nil
}

// IsReadOnly queries the read-only flag of snapshot num.
func (m *Manager) IsReadOnly(num uint64) (bool, error) {
	dir, err := m.OpenSnapshotDir(num)
	if err != nil {
		return false, err
	}
	defer dir.Close()
	return btrfs.IsSubvolumeReadOnly(dir.FD())
}

// Check reports whether snapshot num exists and is a subvolume.
func (m *Manager) Check(num uint64) bool {
	info, err := m.openInfoDir(num)
	if err != nil {
		return false
	}
	defer info.Close()

	st, err := info.Stat(snapshotDirName)
	return err == nil && btrfs.IsSubvolume(&st)
}
