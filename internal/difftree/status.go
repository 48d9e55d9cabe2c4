package difftree

import "strings"

// Status is a bit set describing how a single path changed between two
// snapshots.
type Status uint32

const (
	// Created marks a path that exists only in the second snapshot.
	Created Status = 1 << iota
	// Deleted marks a path that exists only in the first snapshot.
	Deleted
	// Content marks a change of file content or size.
	Content
	// Permissions marks a change of the mode bits.
	Permissions
	// Owner marks a change of the owning user.
	Owner
	// Group marks a change of the owning group.
	Group
	// Xattrs marks a change of the extended attribute set.
	Xattrs
	// ACL marks a change of the POSIX ACL xattrs.
	ACL
)

// AttrMask covers the attribute bits that are subject to the content-compare
// refinement. Created and Deleted are excluded.
const AttrMask = Content | Permissions | Owner | Group | Xattrs | ACL

// Normalize applies the collapse rule: Created or Deleted makes the attribute
// bits irrelevant, so a status carrying either collapses to that flag alone.
// When both are set, Created wins.
func (s Status) Normalize() Status {
	if s&Created != 0 {
		s = Created
	}
	if s&Deleted != 0 {
		s = Deleted
	}
	return s
}

// String renders the status in the classic column form, e.g. "+....." for a
// created path or ".p..x." for a permission and xattr change.
func (s Status) String() string {
	var b strings.Builder

	switch {
	case s&Created != 0:
		b.WriteByte('+')
	case s&Deleted != 0:
		b.WriteByte('-')
	case s&Content != 0:
		b.WriteByte('c')
	default:
		b.WriteByte('.')
	}

	cols := []struct {
		flag Status
		c    byte
	}{
		{Permissions, 'p'},
		{Owner, 'o'},
		{Group, 'g'},
		{Xattrs, 'x'},
		{ACL, 'a'},
	}
	for _, col := range cols {
		if s&Created == 0 && s&Deleted == 0 && s&col.flag != 0 {
			b.WriteByte(col.c)
		} else {
			b.WriteByte('.')
		}
	}

	return b.String()
}
