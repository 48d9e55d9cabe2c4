package btrfs

import (
	"encoding/binary"
	"testing"
)

func rootItemBytes(t *testing.T, generation, flags, ctransid uint64, uuid byte) []byte {
	t.Helper()
	data := make([]byte, riExtLen)
	binary.LittleEndian.PutUint64(data[riGeneration:], generation)
	binary.LittleEndian.PutUint64(data[riFlags:], flags)
	for i := 0; i < 16; i++ {
		data[riUUID+i] = uuid
	}
	binary.LittleEndian.PutUint64(data[riCTransID:], ctransid)
	return data
}

func rootRefBytes(t *testing.T, name string) []byte {
	t.Helper()
	data := make([]byte, 18+len(name))
	binary.LittleEndian.PutUint64(data[0:], 256) // dirid
	binary.LittleEndian.PutUint16(data[16:], uint16(len(name)))
	copy(data[18:], name)
	return data
}

func TestParseRootItem(t *testing.T) {
	data := rootItemBytes(t, 7, rootSubvolReadonly, 42, 0xab)

	ri, err := parseRootItem(257, 5, data)
	if err != nil {
		t.Fatal(err)
	}
	if ri.id != 257 || ri.parentID != 5 {
		t.Errorf("id/parent = %d/%d, want 257/5", ri.id, ri.parentID)
	}
	if ri.generation != 7 || ri.ctransid != 42 {
		t.Errorf("generation/ctransid = %d/%d, want 7/42", ri.generation, ri.ctransid)
	}
	if ri.flags&rootSubvolReadonly == 0 {
		t.Error("read-only flag lost")
	}
	if ri.uuid[0] != 0xab || ri.uuid[15] != 0xab {
		t.Errorf("uuid = %x", ri.uuid)
	}

	if _, err := parseRootItem(257, 5, data[:100]); err == nil {
		t.Error("short root item should fail to parse")
	}
}

func TestParseRootRef(t *testing.T) {
	r, err := parseRootRef(258, 257, rootRefBytes(t, "nested"))
	if err != nil {
		t.Fatal(err)
	}
	if r.id != 258 || r.parentID != 257 || r.name != "nested" {
		t.Errorf("ref = %+v", r)
	}

	bad := rootRefBytes(t, "nested")
	binary.LittleEndian.PutUint16(bad[16:], 200)
	if _, err := parseRootRef(258, 257, bad); err == nil {
		t.Error("truncated name should fail to parse")
	}
}

func TestIndexPaths(t *testing.T) {
	items := []rootItem{
		{id: fsTreeObjectID},
		{id: 257, parentID: fsTreeObjectID, flags: rootSubvolReadonly, ctransid: 10},
		{id: 258, parentID: 257, ctransid: 11},
		{id: 300, parentID: fsTreeObjectID},
	}
	refs := []rootRef{
		{id: 257, parentID: fsTreeObjectID, name: ".snapshots"},
		{id: 258, parentID: 257, name: "1"},
		{id: 300, parentID: fsTreeObjectID, name: "home"},
	}

	ix := newIndex(items, refs)

	tests := []struct {
		path string
		id   uint64
		ok   bool
	}{
		{".snapshots", 257, true},
		{".snapshots/1", 258, true},
		{"home", 300, true},
		{"", fsTreeObjectID, true},
		{"missing", 0, false},
	}
	for _, tc := range tests {
		id, ok := ix.RootIDByPath(tc.path)
		if ok != tc.ok || id != tc.id {
			t.Errorf("RootIDByPath(%q) = %d,%v, want %d,%v", tc.path, id, ok, tc.id, tc.ok)
		}
	}

	si, ok := ix.ByPath(".snapshots")
	if !ok || !si.ReadOnly {
		t.Errorf("ByPath(.snapshots) = %+v,%v, want read-only record", si, ok)
	}

	subs := ix.Subvolumes()
	if len(subs) != 4 {
		t.Fatalf("Subvolumes() returned %d records, want 4", len(subs))
	}
	for i := 1; i < len(subs); i++ {
		if subs[i-1].RootID > subs[i].RootID {
			t.Fatal("Subvolumes() not sorted by root id")
		}
	}
}

func TestResolvePathsCycle(t *testing.T) {
	// A corrupt backref cycle must not hang or produce paths.
	refs := []rootRef{
		{id: 257, parentID: 258, name: "a"},
		{id: 258, parentID: 257, name: "b"},
	}
	paths := resolvePaths(refs)
	if len(paths) != 0 {
		t.Errorf("cycle resolved to %v, want none", paths)
	}
}
