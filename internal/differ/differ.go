// Package differ computes the per-file difference report between two
// read-only snapshots of the same subvolume lineage. It folds the operations
// of an incremental kernel send stream into a change tree, then confirms
// attribute-level changes by comparing only the touched files.
package differ

import (
	"context"
	"path"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"

	"github.com/pa-sowa/snapper/internal/difftree"
	"github.com/pa-sowa/snapper/internal/dirfd"
	"github.com/pa-sowa/snapper/internal/sendstream"
	"github.com/pa-sowa/snapper/internal/stringutil"
)

// Callback receives one changed path per invocation. Paths are absolute
// within the snapshot, starting with '/'.
type Callback func(path string, status difftree.Status)

// processor owns the change tree for the duration of one diff computation.
// The stream callbacks run on the consumer goroutine; nothing else touches
// the tree until the pipeline has been joined.
type processor struct {
	ctx context.Context

	base *dirfd.Dir
	dir1 *dirfd.Dir
	dir2 *dirfd.Dir

	files *difftree.Tree

	// xattrSupported is cleared when the platform cannot read extended
	// attributes; xattr stream operations are then accepted but ignored.
	xattrSupported bool
}

func newProcessor(ctx context.Context, base, dir1, dir2 *dirfd.Dir) *processor {
	return &processor{
		ctx:            ctx,
		base:           base,
		dir1:           dir1,
		dir2:           dir2,
		files:          difftree.New(),
		xattrSupported: xattrSupported,
	}
}

// created records that name exists only in the second snapshot. Creating over
// a node already in the tree means the path was replaced in place, which
// touches every attribute.
func (p *processor) created(name string) {
	node := p.files.Find(name)
	if node == nil {
		p.files.Insert(name).Status = difftree.Created
		return
	}
	node.Status &^= difftree.Created | difftree.Deleted
	node.Status |= difftree.AttrMask
}

// deleted records that name exists only in the first snapshot. Deleting a
// node the stream created earlier removes it without a trace.
func (p *processor) deleted(name string) {
	node := p.files.Find(name)
	if node == nil {
		p.files.Insert(name).Status = difftree.Deleted
		return
	}
	p.files.Erase(name)
}

// modified marks attribute flags on name, inserting it if needed.
func (p *processor) modified(name string, flags difftree.Status) {
	p.files.Insert(name).Status |= flags
}

// rename handles the three cases of a stream rename: an untouched source
// subtree, a plain tree-level move, and a move onto an existing target.
func (p *processor) rename(from, to string) error {
	log.G(p.ctx).WithField("from", from).WithField("to", to).Trace("rename")

	if p.files.Find(from) == nil {
		// The subtree was untouched by the stream but exists in the
		// first snapshot: synthesize delete+create pairs for it and,
		// for directories, everything beneath it.
		p.deleted(from)
		p.created(to)

		dirname, basename := splitPath(from)
		sub1, err := dirfd.Deepopen(p.dir1, dirname)
		if err != nil {
			return err
		}
		defer sub1.Close()

		st, err := sub1.Stat(basename)
		if err != nil || st.Mode&unix.S_IFMT != unix.S_IFDIR {
			return nil
		}
		src, err := dirfd.OpenAt(sub1, basename)
		if err != nil {
			return err
		}
		defer src.Close()

		entries, err := src.EntriesRecursive()
		if err != nil {
			return err
		}
		for _, e := range entries {
			p.deleted(from + "/" + e)
			p.created(to + "/" + e)
		}
		return nil
	}

	if p.files.Find(to) == nil {
		p.files.Rename(from, to)
		return nil
	}

	// Target already tracked: the source subtree merges into it.
	detached := p.files.Detach(from)
	p.deleted(from)
	p.created(to)
	p.merge(detached, to)
	return nil
}

// merge upserts every descendant of a detached subtree below to. Collisions
// mean a path was replaced, which touches every attribute.
func (p *processor) merge(detached *difftree.Node, to string) {
	difftree.WalkNode(detached, func(rel string, dn *difftree.Node) {
		x := to + "/" + rel
		node := p.files.Find(x)
		if node == nil {
			p.files.Insert(x).Status = dn.Status
			return
		}
		node.Status &^= difftree.Created | difftree.Deleted
		node.Status |= difftree.AttrMask
	})
}

func (p *processor) xattrTouched(name, attr string, data []byte) error {
	if !p.xattrSupported {
		return nil
	}
	log.G(p.ctx).WithField("path", name).WithField("xattr", attr).
		WithField("data", stringutil.Truncate(data, 64)).Trace("xattr")

	flags := difftree.Xattrs
	if IsACLSignature(attr) {
		flags |= difftree.ACL
	}
	p.modified(name, flags)
	return nil
}

// ops is the callback table handed to the stream parser. Operations that
// cannot change the report (mknod, mkfifo, mksock, utimes and the header
// frames) are left nil.
func (p *processor) ops() sendstream.Ops {
	createdOp := func(name string) error {
		p.created(name)
		return nil
	}
	deletedOp := func(name string) error {
		p.deleted(name)
		return nil
	}
	contentOp := func(name string) error {
		p.modified(name, difftree.Content)
		return nil
	}

	return sendstream.Ops{
		Mkfile: createdOp,
		Mkdir:  createdOp,
		Symlink: func(name, target string) error {
			return createdOp(name)
		},
		Link: func(name, target string) error {
			return createdOp(name)
		},
		Rename: p.rename,
		Unlink: deletedOp,
		Rmdir:  deletedOp,
		Write: func(name string, offset uint64, data []byte) error {
			return contentOp(name)
		},
		Clone: func(name string, offset, length uint64, srcPath string, srcOffset uint64) error {
			return contentOp(name)
		},
		Truncate: func(name string, size uint64) error {
			return contentOp(name)
		},
		UpdateExtent: func(name string, offset, length uint64) error {
			return contentOp(name)
		},
		Chmod: func(name string, mode uint64) error {
			p.modified(name, difftree.Permissions)
			return nil
		},
		Chown: func(name string, uid, gid uint64) error {
			p.modified(name, difftree.Owner|difftree.Group)
			return nil
		},
		SetXattr: func(name, attr string, data []byte) error {
			return p.xattrTouched(name, attr, data)
		},
		RemoveXattr: func(name, attr string) error {
			return p.xattrTouched(name, attr, nil)
		},
	}
}

// postPass normalizes every node and re-measures attribute-level changes
// against the real snapshots. The send stream reports the intent of writes;
// a chmod immediately reverted or a write restoring identical bytes shows up
// as touched without producing a semantic difference.
func (p *processor) postPass() {
	p.files.Walk(func(rel string, n *difftree.Node) {
		st := n.Status.Normalize()
		if st&difftree.AttrMask != 0 {
			st &^= difftree.AttrMask
			st |= p.cmpFiles(rel)
		}
		n.Status = st
	})
}

// result walks the tree in deterministic pre-order and reports every node
// with a non-zero status.
func (p *processor) result(cb Callback) {
	p.files.Walk(func(rel string, n *difftree.Node) {
		if n.Status != 0 {
			cb("/"+rel, n.Status)
		}
	})
}

// IsACLSignature reports whether an xattr name carries a POSIX ACL.
func IsACLSignature(name string) bool {
	return name == "system.posix_acl_access" || name == "system.posix_acl_default"
}

func splitPath(p0 string) (dir, base string) {
	dir, base = path.Split(p0)
	if dir != "" {
		dir = dir[:len(dir)-1]
	}
	return dir, base
}
