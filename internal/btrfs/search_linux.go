package btrfs

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
)

const (
	searchKeySize = 104
	searchBufSize = 4096 - searchKeySize
)

type searchKey struct {
	TreeID      uint64
	MinObjectID uint64
	MaxObjectID uint64
	MinOffset   uint64
	MaxOffset   uint64
	MinTransID  uint64
	MaxTransID  uint64
	MinType     uint32
	MaxType     uint32
	NrItems     uint32

	_ uint32
	_ [4]uint64
}

type searchArgs struct {
	Key searchKey
	Buf [searchBufSize]byte
}

type searchHeader struct {
	TransID  uint64
	ObjectID uint64
	Offset   uint64
	Type     uint32
	Len      uint32
}

const searchHeaderSize = 32

// treeSearch iterates the root tree between the given object id and key type
// bounds, invoking fn for every matching item.
func treeSearch(f *os.File, minObjID, maxObjID uint64, minType, maxType uint32, fn func(hdr searchHeader, data []byte) error) error {
	args := searchArgs{
		Key: searchKey{
			TreeID:      rootTreeObjectID,
			MinObjectID: minObjID,
			MaxObjectID: maxObjID,
			MaxOffset:   ^uint64(0),
			MaxTransID:  ^uint64(0),
			MinType:     minType,
			MaxType:     maxType,
			NrItems:     4096,
		},
	}

	for {
		if err := ioctl.Ioctl(f, iocTreeSearch, uintptr(unsafe.Pointer(&args))); err != nil {
			return fmt.Errorf("TREE_SEARCH: %w", err)
		}
		if args.Key.NrItems == 0 {
			return nil
		}

		var last searchHeader
		consumed := 0
		off := 0
		for i := uint32(0); i < args.Key.NrItems; i++ {
			if off+searchHeaderSize > len(args.Buf) {
				break
			}
			hdr := searchHeader{
				TransID:  binary.LittleEndian.Uint64(args.Buf[off:]),
				ObjectID: binary.LittleEndian.Uint64(args.Buf[off+8:]),
				Offset:   binary.LittleEndian.Uint64(args.Buf[off+16:]),
				Type:     binary.LittleEndian.Uint32(args.Buf[off+24:]),
				Len:      binary.LittleEndian.Uint32(args.Buf[off+28:]),
			}
			off += searchHeaderSize
			if off+int(hdr.Len) > len(args.Buf) {
				break
			}
			if hdr.Type >= minType && hdr.Type <= maxType {
				if err := fn(hdr, args.Buf[off:off+int(hdr.Len)]); err != nil {
					return err
				}
			}
			off += int(hdr.Len)
			last = hdr
			consumed++
		}
		if consumed == 0 {
			return fmt.Errorf("TREE_SEARCH: result buffer too small for a single item")
		}

		// Continue after the last delivered key.
		if last.Offset == ^uint64(0) {
			if last.Type >= maxType {
				if last.ObjectID >= maxObjID {
					return nil
				}
				args.Key.MinObjectID = last.ObjectID + 1
				args.Key.MinType = minType
			} else {
				args.Key.MinType = last.Type + 1
			}
			args.Key.MinOffset = 0
		} else {
			args.Key.MinObjectID = last.ObjectID
			args.Key.MinType = last.Type
			args.Key.MinOffset = last.Offset + 1
		}
		args.Key.NrItems = 4096
	}
}

// NewSubvolumeIndex enumerates the subvolumes of the filesystem containing
// the directory open at fd and returns a point-in-time index.
func NewSubvolumeIndex(fd int, name string) (*SubvolumeIndex, error) {
	f, err := dupFile(fd, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var items []rootItem
	err = treeSearch(f, fsTreeObjectID, ^uint64(0), rootItemKey, rootItemKey,
		func(hdr searchHeader, data []byte) error {
			it, err := parseRootItem(hdr.ObjectID, hdr.Offset, data)
			if err != nil {
				// Skip malformed records; the filesystem may be newer
				// than this decoder.
				return nil
			}
			items = append(items, it)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("enumerate subvolumes of %s: %w", name, err)
	}

	var refs []rootRef
	err = treeSearch(f, firstFreeObjectID, ^uint64(0), rootBackrefKey, rootBackrefKey,
		func(hdr searchHeader, data []byte) error {
			r, err := parseRootRef(hdr.ObjectID, hdr.Offset, data)
			if err != nil {
				return nil
			}
			refs = append(refs, r)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("enumerate subvolume backrefs of %s: %w", name, err)
	}

	return newIndex(items, refs), nil
}
