package differ

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/containerd/continuity/fs"
	"github.com/containerd/log"

	"github.com/pa-sowa/snapper/internal/difftree"
	"github.com/pa-sowa/snapper/internal/dirfd"
)

// FallbackCmpDirs produces the same report as CmpDirs by walking both trees,
// with no btrfs machinery involved. It is the brute-force path taken when the
// send-stream core signals SendReceiveError, and carries the identical
// callback contract.
func FallbackCmpDirs(ctx context.Context, dir1, dir2 *dirfd.Dir, cb Callback) error {
	t1 := time.Now()

	p := newProcessor(ctx, nil, dir1, dir2)
	err := fs.Changes(ctx, dir1.Name(), dir2.Name(),
		func(kind fs.ChangeKind, rel string, _ os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel = strings.TrimPrefix(rel, "/")
			if rel == "" {
				return nil
			}
			switch kind {
			case fs.ChangeKindAdd:
				p.files.Insert(rel).Status = difftree.Created
			case fs.ChangeKindDelete:
				p.files.Insert(rel).Status = difftree.Deleted
			case fs.ChangeKindModify:
				// The walk only says "something differs"; the post
				// pass measures which attributes.
				p.files.Insert(rel).Status = difftree.AttrMask
			}
			return nil
		})
	if err != nil {
		return err
	}

	p.postPass()
	p.result(cb)

	log.G(ctx).WithFields(log.Fields{
		"d":    time.Since(t1),
		"dir1": dir1.Name(),
		"dir2": dir2.Name(),
	}).Debug("compared snapshots via tree walk")
	return nil
}
