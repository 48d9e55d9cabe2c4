package differ

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/pa-sowa/snapper/internal/btrfs"
	"github.com/pa-sowa/snapper/internal/dirfd"
)

// CmpDirs computes the difference report between the read-only snapshots
// dir1 and dir2 below the subvolume root base, invoking cb once per changed
// path before returning. It raises SendReceiveError when the send-stream
// machinery cannot run; callers may then fall back to the walking comparator.
func CmpDirs(ctx context.Context, base, dir1, dir2 *dirfd.Dir, cb Callback) error {
	t1 := time.Now()

	p := newProcessor(ctx, base, dir1, dir2)
	if err := p.process(ctx, cb); err != nil {
		return err
	}

	log.G(ctx).WithFields(log.Fields{
		"d":    time.Since(t1),
		"dir1": dir1.Name(),
		"dir2": dir2.Name(),
	}).Debug("compared snapshots via send stream")
	return nil
}

func (p *processor) process(ctx context.Context, cb Callback) error {
	for _, d := range []*dirfd.Dir{p.dir1, p.dir2} {
		ro, err := btrfs.IsSubvolumeReadOnly(d.FD())
		if err != nil {
			return &SendReceiveError{Stage: "verify", Cause: err}
		}
		if !ro {
			return &SendReceiveError{
				Stage: "verify",
				Cause: fmt.Errorf("%s is not a read-only snapshot: %w", d.Name(), errdefs.ErrFailedPrecondition),
			}
		}
	}

	index, err := btrfs.NewSubvolumeIndex(p.base.FD(), p.base.Name())
	if err != nil {
		return &SendReceiveError{Stage: "resolve", Cause: err}
	}

	rel, err := filepath.Rel(p.base.Name(), p.dir1.Name())
	if err != nil {
		return &SendReceiveError{Stage: "resolve", Cause: err}
	}
	parentRootID, ok := index.RootIDByPath(rel)
	if !ok {
		return &SendReceiveError{
			Stage: "resolve",
			Cause: fmt.Errorf("no subvolume at %q below %s: %w", rel, p.base.Name(), errdefs.ErrNotFound),
		}
	}

	cloneSources := []uint64{parentRootID}

	if err := p.doSend(ctx, parentRootID, cloneSources); err != nil {
		return err
	}

	p.postPass()
	p.result(cb)
	return nil
}
