//go:build !linux

package snapshot

import (
	"context"

	"github.com/containerd/errdefs"

	"github.com/pa-sowa/snapper/internal/dirfd"
)

// Manager drives the snapshot lifecycle of one configured subvolume. It
// requires the btrfs ioctls and is only functional on Linux.
type Manager struct{}

// NewManager opens the subvolume at path.
func NewManager(path string, registry *Registry) (*Manager, error) {
	return nil, errdefs.ErrNotImplemented
}

// Close releases the subvolume handle.
func (m *Manager) Close() error { return nil }

// Subvolume returns the managed subvolume handle.
func (m *Manager) Subvolume() *dirfd.Dir { return nil }

// CreateConfig creates the .snapshots subvolume.
func (m *Manager) CreateConfig(ctx context.Context) error {
	return errdefs.ErrNotImplemented
}

// DeleteConfig removes the .snapshots subvolume.
func (m *Manager) DeleteConfig(ctx context.Context) error {
	return errdefs.ErrNotImplemented
}

// OpenSnapshotDir opens the snapshot subvolume of snapshot num.
func (m *Manager) OpenSnapshotDir(num uint64) (*dirfd.Dir, error) {
	return nil, errdefs.ErrNotImplemented
}

// Create snapshots the subvolume into .snapshots/<num>/snapshot.
func (m *Manager) Create(ctx context.Context, num, parent uint64, readOnly bool, description string) error {
	return errdefs.ErrNotImplemented
}

// Delete removes the snapshot subvolume of num.
func (m *Manager) Delete(ctx context.Context, num uint64) error {
	return errdefs.ErrNotImplemented
}

// IsReadOnly queries the read-only flag of snapshot num.
func (m *Manager) IsReadOnly(num uint64) (bool, error) {
	return false, errdefs.ErrNotImplemented
}

// Check reports whether snapshot num exists and is a subvolume.
func (m *Manager) Check(num uint64) bool { return false }
