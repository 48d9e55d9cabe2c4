// Package diff is the public entry point for comparing two read-only btrfs
// snapshots. It prefers the send-stream core and transparently falls back to
// a brute-force tree walk when the kernel machinery is unavailable.
package diff

import (
	"context"
	"os"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/pa-sowa/snapper/internal/differ"
	"github.com/pa-sowa/snapper/internal/difftree"
	"github.com/pa-sowa/snapper/internal/dirfd"
)

// Status is the per-path change bit set reported through the callback.
type Status = difftree.Status

// Change flags. Created and Deleted are exclusive of the attribute flags.
const (
	Created     = difftree.Created
	Deleted     = difftree.Deleted
	Content     = difftree.Content
	Permissions = difftree.Permissions
	Owner       = difftree.Owner
	Group       = difftree.Group
	Xattrs      = difftree.Xattrs
	ACL         = difftree.ACL
)

// Callback receives one changed path per invocation, in deterministic
// pre-order, with a non-zero status. Paths start with '/'.
type Callback func(path string, status Status)

// CmpDirs reports the differences between the snapshots open at dir1 and
// dir2, both below the subvolume root open at base. The handles are borrowed;
// the caller opened them (with O_CLOEXEC) and closes them.
//
// The callback is invoked synchronously, exactly once per changed path, by
// exactly one of the two comparators: partial results of a failed send-stream
// run are discarded before the tree walk starts over.
func CmpDirs(ctx context.Context, base, dir1, dir2 *os.File, cb Callback) error {
	bd := dirfd.Borrow(int(base.Fd()), base.Name())
	d1 := dirfd.Borrow(int(dir1.Fd()), dir1.Name())
	d2 := dirfd.Borrow(int(dir2.Fd()), dir2.Name())

	err := differ.CmpDirs(ctx, bd, d1, d2, differ.Callback(cb))
	if err == nil {
		return nil
	}
	if !differ.IsSendReceive(err) && !errdefs.IsNotImplemented(err) {
		return err
	}

	log.G(ctx).WithError(err).Warn("send-stream compare failed, falling back to tree walk")
	return differ.FallbackCmpDirs(ctx, d1, d2, differ.Callback(cb))
}

// CmpDirsPaths is a convenience wrapper opening the three directories by
// path.
func CmpDirsPaths(ctx context.Context, base, dir1, dir2 string, cb Callback) error {
	bd, err := os.Open(base)
	if err != nil {
		return err
	}
	defer bd.Close()

	d1, err := os.Open(dir1)
	if err != nil {
		return err
	}
	defer d1.Close()

	d2, err := os.Open(dir2)
	if err != nil {
		return err
	}
	defer d2.Close()

	return CmpDirs(ctx, bd, d1, d2, cb)
}
