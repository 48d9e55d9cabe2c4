// Package dirfd provides directory handles for openat-style traversal that
// never crosses symlinks. The diff core works on handles rather than paths so
// a snapshot cannot be swapped underneath it mid-comparison.
package dirfd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// Dir wraps an open O_CLOEXEC directory file descriptor together with the
// path it was opened under (kept for logging and for the walking fallback).
type Dir struct {
	fd       int
	name     string
	borrowed bool
}

// Open opens path as a directory handle.
func Open(path string) (*Dir, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &Dir{fd: fd, name: path}, nil
}

// OpenAt opens the directory name inside parent. The lookup does not follow
// symlinks.
func OpenAt(parent *Dir, name string) (*Dir, error) {
	fd, err := unix.Openat(parent.fd, name,
		unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "openat", Path: parent.join(name), Err: err}
	}
	return &Dir{fd: fd, name: parent.join(name)}, nil
}

// Deepopen opens the relative path rel below parent one segment at a time, so
// no component of the walk can be a symlink. An empty rel duplicates parent.
func Deepopen(parent *Dir, rel string) (*Dir, error) {
	if rel == "" || rel == "." {
		fd, err := unix.Openat(parent.fd, ".",
			unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
		if err != nil {
			return nil, &os.PathError{Op: "openat", Path: parent.name, Err: err}
		}
		return &Dir{fd: fd, name: parent.name}, nil
	}

	cur := parent
	owned := false
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" {
			continue
		}
		next, err := OpenAt(cur, seg)
		if owned {
			cur.Close()
		}
		if err != nil {
			return nil, err
		}
		cur = next
		owned = true
	}
	if !owned {
		return Deepopen(parent, "")
	}
	return cur, nil
}

// Borrow wraps a file descriptor owned by the caller. Close is a no-op so the
// caller keeps control of the descriptor's lifetime.
func Borrow(fd int, name string) *Dir {
	return &Dir{fd: fd, name: name, borrowed: true}
}

// FD returns the underlying descriptor.
func (d *Dir) FD() int {
	return d.fd
}

// Name returns the path the handle was opened under.
func (d *Dir) Name() string {
	return d.name
}

// Close releases the descriptor unless it is borrowed.
func (d *Dir) Close() error {
	if d.borrowed || d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

func (d *Dir) join(name string) string {
	return filepath.Join(d.name, name)
}

// Stat stats the entry name inside the directory without following symlinks.
func (d *Dir) Stat(name string) (unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Fstatat(d.fd, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return st, &os.PathError{Op: "fstatat", Path: d.join(name), Err: err}
	}
	return st, nil
}

// StatSelf stats the directory itself.
func (d *Dir) StatSelf() (unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Fstat(d.fd, &st); err != nil {
		return st, &os.PathError{Op: "fstat", Path: d.name, Err: err}
	}
	return st, nil
}

// Readlink reads the target of the symlink entry name.
func (d *Dir) Readlink(name string) (string, error) {
	buf := make([]byte, unix.PathMax)
	n, err := unix.Readlinkat(d.fd, name, buf)
	if err != nil {
		return "", &os.PathError{Op: "readlinkat", Path: d.join(name), Err: err}
	}
	return string(buf[:n]), nil
}

// OpenFileNoFollow opens the regular-file entry name read-only. The open
// fails on symlinks.
func (d *Dir) OpenFileNoFollow(name string) (*os.File, error) {
	fd, err := unix.Openat(d.fd, name,
		unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, &os.PathError{Op: "openat", Path: d.join(name), Err: err}
	}
	return os.NewFile(uintptr(fd), d.join(name)), nil
}

// file returns a fresh *os.File for reading the directory entries. The handle
// has its own offset, leaving the Dir untouched.
func (d *Dir) file() (*os.File, error) {
	fd, err := unix.Openat(d.fd, ".",
		unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "openat", Path: d.name, Err: err}
	}
	return os.NewFile(uintptr(fd), d.name), nil
}

// Entries returns the names of the directory entries, sorted.
func (d *Dir) Entries() ([]string, error) {
	f, err := d.file()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("read entries of %s: %w", d.name, err)
	}
	sort.Strings(names)
	return names, nil
}

// EntriesRecursive returns all entries below the directory as relative paths,
// parents before children, sorted within each directory. Symlinked
// directories are reported but not descended into.
func (d *Dir) EntriesRecursive() ([]string, error) {
	var out []string
	err := d.entriesRecursive("", &out)
	return out, err
}

func (d *Dir) entriesRecursive(prefix string, out *[]string) error {
	names, err := d.Entries()
	if err != nil {
		return err
	}
	for _, name := range names {
		rel := name
		if prefix != "" {
			rel = prefix + "/" + name
		}
		*out = append(*out, rel)

		st, err := d.Stat(name)
		if err != nil {
			return err
		}
		if st.Mode&unix.S_IFMT != unix.S_IFDIR {
			continue
		}
		sub, err := OpenAt(d, name)
		if err != nil {
			return err
		}
		err = sub.entriesRecursive(rel, out)
		sub.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
