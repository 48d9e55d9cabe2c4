package differ

import (
	"bytes"
	"io"
	"strings"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"

	"github.com/pa-sowa/snapper/internal/difftree"
	"github.com/pa-sowa/snapper/internal/dirfd"
)

const xattrSupported = true

// cmpFiles measures which attributes of rel actually differ between the two
// snapshots and returns the corresponding subset of the attribute flags.
// Any failure to inspect the path reports it as fully changed; over-reporting
// is safe, silence is not.
func (p *processor) cmpFiles(rel string) difftree.Status {
	dirname, basename := splitPath(rel)

	sub1, err := dirfd.Deepopen(p.dir1, dirname)
	if err != nil {
		log.G(p.ctx).WithError(err).WithField("path", rel).Warn("cannot open parent in first snapshot")
		return difftree.AttrMask
	}
	defer sub1.Close()

	sub2, err := dirfd.Deepopen(p.dir2, dirname)
	if err != nil {
		log.G(p.ctx).WithError(err).WithField("path", rel).Warn("cannot open parent in second snapshot")
		return difftree.AttrMask
	}
	defer sub2.Close()

	return p.cmpEntries(sub1, sub2, basename)
}

func (p *processor) cmpEntries(d1, d2 *dirfd.Dir, name string) difftree.Status {
	st1, err1 := d1.Stat(name)
	st2, err2 := d2.Stat(name)
	if err1 != nil || err2 != nil {
		log.G(p.ctx).WithField("path", name).Warn("cannot stat touched entry, reporting it fully changed")
		return difftree.AttrMask
	}

	var out difftree.Status

	if st1.Mode&unix.S_IFMT != st2.Mode&unix.S_IFMT {
		out |= difftree.Content
	} else {
		switch st1.Mode & unix.S_IFMT {
		case unix.S_IFREG:
			if st1.Size != st2.Size {
				out |= difftree.Content
			} else if differs, err := contentDiffers(d1, d2, name); err != nil || differs {
				out |= difftree.Content
			}
		case unix.S_IFLNK:
			t1, e1 := d1.Readlink(name)
			t2, e2 := d2.Readlink(name)
			if e1 != nil || e2 != nil || t1 != t2 {
				out |= difftree.Content
			}
		}
	}

	if st1.Mode&0o7777 != st2.Mode&0o7777 {
		out |= difftree.Permissions
	}
	if st1.Uid != st2.Uid {
		out |= difftree.Owner
	}
	if st1.Gid != st2.Gid {
		out |= difftree.Group
	}

	x1, ok1 := readXattrs(d1, name, st1)
	x2, ok2 := readXattrs(d2, name, st2)
	if !ok1 || !ok2 {
		out |= difftree.Xattrs | difftree.ACL
	} else {
		xd, acld := xattrsDiffer(x1, x2)
		if xd {
			out |= difftree.Xattrs
		}
		if acld {
			out |= difftree.ACL
		}
	}

	return out
}

// contentDiffers compares the bytes of the regular file name on both sides in
// fixed-size chunks.
func contentDiffers(d1, d2 *dirfd.Dir, name string) (bool, error) {
	f1, err := d1.OpenFileNoFollow(name)
	if err != nil {
		return false, err
	}
	defer f1.Close()

	f2, err := d2.OpenFileNoFollow(name)
	if err != nil {
		return false, err
	}
	defer f2.Close()

	b1 := make([]byte, 32*1024)
	b2 := make([]byte, 32*1024)
	for {
		n1, e1 := io.ReadFull(f1, b1)
		n2, e2 := io.ReadFull(f2, b2)
		if n1 != n2 || !bytes.Equal(b1[:n1], b2[:n2]) {
			return true, nil
		}
		atEOF := func(e error) bool { return e == io.EOF || e == io.ErrUnexpectedEOF }
		switch {
		case atEOF(e1) && atEOF(e2):
			return false, nil
		case atEOF(e1) != atEOF(e2):
			return true, nil
		case e1 != nil:
			return false, e1
		case e2 != nil:
			return false, e2
		}
	}
}

// readXattrs returns the extended attributes of name. Symlinks and special
// files cannot be opened without following them and do not carry user
// xattrs, so they compare as empty. The second result is false when the
// attributes could not be read.
func readXattrs(d *dirfd.Dir, name string, st unix.Stat_t) (map[string]string, bool) {
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFDIR:
	default:
		return nil, true
	}

	f, err := d.OpenFileNoFollow(name)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	fd := int(f.Fd())

	list, err := readXattrList(fd)
	if err != nil {
		if err == unix.ENOTSUP {
			return map[string]string{}, true
		}
		return nil, false
	}

	out := make(map[string]string, len(list))
	for _, attr := range list {
		value, err := readXattrValue(fd, attr)
		if err != nil {
			return nil, false
		}
		out[attr] = value
	}
	return out, true
}

func readXattrList(fd int) ([]string, error) {
	for {
		sz, err := unix.Flistxattr(fd, nil)
		if err != nil {
			return nil, err
		}
		if sz == 0 {
			return nil, nil
		}
		buf := make([]byte, sz)
		n, err := unix.Flistxattr(fd, buf)
		if err == unix.ERANGE {
			// The list grew between the two calls, retry.
			continue
		}
		if err != nil {
			return nil, err
		}
		return strings.Split(strings.TrimRight(string(buf[:n]), "\x00"), "\x00"), nil
	}
}

func readXattrValue(fd int, attr string) (string, error) {
	for {
		sz, err := unix.Fgetxattr(fd, attr, nil)
		if err != nil {
			return "", err
		}
		buf := make([]byte, sz)
		n, err := unix.Fgetxattr(fd, attr, buf)
		if err == unix.ERANGE {
			continue
		}
		if err != nil {
			return "", err
		}
		return string(buf[:n]), nil
	}
}

// xattrsDiffer compares two xattr sets by name and value. The second result
// is set when one of the differing names is a POSIX ACL signature.
func xattrsDiffer(a, b map[string]string) (xattrs, acl bool) {
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			xattrs = true
			if IsACLSignature(k) {
				acl = true
			}
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			xattrs = true
			if IsACLSignature(k) {
				acl = true
			}
		}
	}
	return xattrs, acl
}
