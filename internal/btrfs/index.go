// Package btrfs talks to the btrfs kernel interfaces the snapshot backend
// needs: subvolume enumeration through the tree-search ioctl, read-only flag
// queries, snapshot creation and removal, and the incremental send request.
package btrfs

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Well-known object ids and key types of the root tree.
const (
	rootTreeObjectID  = 1
	fsTreeObjectID    = 5
	firstFreeObjectID = 256

	rootItemKey    = 132
	rootBackrefKey = 144
)

// rootSubvolReadonly is the read-only bit in the on-disk root item flags.
const rootSubvolReadonly = 1 << 0

// SubvolumeInfo describes one subvolume of the filesystem.
type SubvolumeInfo struct {
	// Path is relative to the filesystem root of the enumerated tree,
	// empty for the top-level subvolume.
	Path       string
	RootID     uint64
	ParentID   uint64
	UUID       uuid.UUID
	ParentUUID uuid.UUID
	CTransID   uint64
	Generation uint64
	ReadOnly   bool
}

// SubvolumeIndex maps subvolume paths to root ids. It is a point-in-time
// snapshot of the subvolume layout, built once per diff computation.
type SubvolumeIndex struct {
	byPath map[string]*SubvolumeInfo
	infos  []SubvolumeInfo
}

// RootIDByPath returns the root id of the subvolume at the given path,
// relative to the top-level subvolume of the filesystem (the form of
// SubvolumeInfo.Path), not to the directory the index was built from.
func (ix *SubvolumeIndex) RootIDByPath(rel string) (uint64, bool) {
	si, ok := ix.byPath[rel]
	if !ok {
		return 0, false
	}
	return si.RootID, true
}

// ByPath returns the full record of the subvolume at the given path.
func (ix *SubvolumeIndex) ByPath(rel string) (*SubvolumeInfo, bool) {
	si, ok := ix.byPath[rel]
	return si, ok
}

// Subvolumes lists all indexed subvolumes ordered by root id.
func (ix *SubvolumeIndex) Subvolumes() []SubvolumeInfo {
	return ix.infos
}

// rootItem is a decoded ROOT_ITEM record.
type rootItem struct {
	id         uint64
	parentID   uint64
	generation uint64
	flags      uint64
	uuid       [16]byte
	parentUUID [16]byte
	ctransid   uint64
}

// rootRef is a decoded ROOT_BACKREF record: subvolume id plus its name and
// parent subvolume.
type rootRef struct {
	id       uint64
	parentID uint64
	name     string
}

// Root item layout offsets, after the 160 byte embedded inode item.
const (
	riGeneration = 160
	riFlags      = 208
	riUUID       = 247
	riParentUUID = 263
	riCTransID   = 295
	riMinLen     = 239
	riExtLen     = 375
)

func parseRootItem(objectID, offset uint64, data []byte) (rootItem, error) {
	if len(data) < riMinLen {
		return rootItem{}, fmt.Errorf("root item for %d too short: %d bytes", objectID, len(data))
	}

	ri := rootItem{
		id:         objectID,
		parentID:   offset,
		generation: binary.LittleEndian.Uint64(data[riGeneration:]),
		flags:      binary.LittleEndian.Uint64(data[riFlags:]),
	}

	// UUIDs and transaction ids only exist in the extended item format.
	if len(data) >= riExtLen {
		copy(ri.uuid[:], data[riUUID:riUUID+16])
		copy(ri.parentUUID[:], data[riParentUUID:riParentUUID+16])
		ri.ctransid = binary.LittleEndian.Uint64(data[riCTransID:])
	}

	return ri, nil
}

func parseRootRef(objectID, offset uint64, data []byte) (rootRef, error) {
	// dirid u64, sequence u64, name_len u16, name.
	if len(data) < 18 {
		return rootRef{}, fmt.Errorf("root backref for %d too short: %d bytes", objectID, len(data))
	}
	nameLen := int(binary.LittleEndian.Uint16(data[16:18]))
	if len(data) < 18+nameLen {
		return rootRef{}, fmt.Errorf("root backref for %d truncated name", objectID)
	}
	return rootRef{
		id:       objectID,
		parentID: offset,
		name:     string(data[18 : 18+nameLen]),
	}, nil
}

// resolvePaths turns the backref name/parent chains into full paths relative
// to the top-level subvolume.
func resolvePaths(refs []rootRef) map[uint64]string {
	byID := make(map[uint64]rootRef, len(refs))
	for _, r := range refs {
		byID[r.id] = r
	}

	paths := make(map[uint64]string)
	var resolve func(id uint64, seen map[uint64]bool) (string, bool)
	resolve = func(id uint64, seen map[uint64]bool) (string, bool) {
		if id == fsTreeObjectID {
			return "", true
		}
		if p, ok := paths[id]; ok {
			return p, true
		}
		if seen[id] {
			return "", false
		}
		seen[id] = true

		r, ok := byID[id]
		if !ok {
			return "", false
		}
		parent, ok := resolve(r.parentID, seen)
		if !ok {
			return "", false
		}
		p := r.name
		if parent != "" {
			p = parent + "/" + r.name
		}
		paths[id] = p
		return p, true
	}

	for _, r := range refs {
		resolve(r.id, make(map[uint64]bool))
	}
	return paths
}

// newIndex assembles the index from decoded root tree records.
func newIndex(items []rootItem, refs []rootRef) *SubvolumeIndex {
	paths := resolvePaths(refs)

	ix := &SubvolumeIndex{byPath: make(map[string]*SubvolumeInfo)}
	for _, it := range items {
		if it.id != fsTreeObjectID && it.id < firstFreeObjectID {
			continue
		}
		si := SubvolumeInfo{
			Path:       paths[it.id],
			RootID:     it.id,
			ParentID:   it.parentID,
			UUID:       uuid.UUID(it.uuid),
			ParentUUID: uuid.UUID(it.parentUUID),
			CTransID:   it.ctransid,
			Generation: it.generation,
			ReadOnly:   it.flags&rootSubvolReadonly != 0,
		}
		ix.infos = append(ix.infos, si)
	}

	sort.Slice(ix.infos, func(i, j int) bool { return ix.infos[i].RootID < ix.infos[j].RootID })
	for i := range ix.infos {
		ix.byPath[ix.infos[i].Path] = &ix.infos[i]
	}
	return ix
}
