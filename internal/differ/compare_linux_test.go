package differ

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pa-sowa/snapper/internal/difftree"
)

func writeFile(t *testing.T, root, rel, content string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatal(err)
	}
	// WriteFile honors umask; force the mode.
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
}

func TestChmodOnly(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	writeFile(t, dir1, "b", "same", 0o644)
	writeFile(t, dir2, "b", "same", 0o600)

	p := testProcessor(t, dir1, dir2)
	p.modified("b", difftree.Permissions)

	want := []report{{"/b", difftree.Permissions}}
	if got := p.reports(); !reflect.DeepEqual(got, want) {
		t.Fatalf("reports = %v, want %v", got, want)
	}
}

func TestWriteThenTruncate(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	writeFile(t, dir1, "c", "old content", 0o644)
	writeFile(t, dir2, "c", "new", 0o644)

	p := testProcessor(t, dir1, dir2)
	p.modified("c", difftree.Content)
	p.modified("c", difftree.Content) // truncate after write

	want := []report{{"/c", difftree.Content}}
	if got := p.reports(); !reflect.DeepEqual(got, want) {
		t.Fatalf("reports = %v, want %v", got, want)
	}
}

func TestAttributeCancellation(t *testing.T) {
	// The stream said chmod, but the mode ended up identical: the node
	// loses all flags and is not reported.
	dir1, dir2 := t.TempDir(), t.TempDir()
	writeFile(t, dir1, "f", "same", 0o644)
	writeFile(t, dir2, "f", "same", 0o644)

	p := testProcessor(t, dir1, dir2)
	p.modified("f", difftree.Permissions)

	if got := p.reports(); got != nil {
		t.Fatalf("reports = %v, want none", got)
	}
}

func TestContentRestoredToIdenticalBytes(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	writeFile(t, dir1, "f", "identical bytes", 0o644)
	writeFile(t, dir2, "f", "identical bytes", 0o644)

	p := testProcessor(t, dir1, dir2)
	p.modified("f", difftree.Content)

	if got := p.reports(); got != nil {
		t.Fatalf("reports = %v, want none", got)
	}
}

func TestRenameUntouchedSubtree(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	writeFile(t, dir1, "d/x", "1", 0o644)
	writeFile(t, dir1, "d/y/z", "2", 0o644)

	p := testProcessor(t, dir1, dir2)
	if err := p.rename("d", "e"); err != nil {
		t.Fatal(err)
	}

	want := []report{
		{"/d", difftree.Deleted},
		{"/d/x", difftree.Deleted},
		{"/d/y", difftree.Deleted},
		{"/d/y/z", difftree.Deleted},
		{"/e", difftree.Created},
		{"/e/x", difftree.Created},
		{"/e/y", difftree.Created},
		{"/e/y/z", difftree.Created},
	}
	if got := p.reports(); !reflect.DeepEqual(got, want) {
		t.Fatalf("reports = %v, want %v", got, want)
	}
}

func TestRenameUntouchedFile(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	writeFile(t, dir1, "f", "1", 0o644)

	p := testProcessor(t, dir1, dir2)
	if err := p.rename("f", "g"); err != nil {
		t.Fatal(err)
	}

	want := []report{
		{"/f", difftree.Deleted},
		{"/g", difftree.Created},
	}
	if got := p.reports(); !reflect.DeepEqual(got, want) {
		t.Fatalf("reports = %v, want %v", got, want)
	}
}

func TestSymlinkTargetChange(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	if err := os.Symlink("old-target", filepath.Join(dir1, "l")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("new-target", filepath.Join(dir2, "l")); err != nil {
		t.Fatal(err)
	}

	p := testProcessor(t, dir1, dir2)
	p.modified("l", difftree.Content)

	want := []report{{"/l", difftree.Content}}
	if got := p.reports(); !reflect.DeepEqual(got, want) {
		t.Fatalf("reports = %v, want %v", got, want)
	}
}

func TestMissingTouchedPathOverReports(t *testing.T) {
	// The touched path vanished from both sides: the node is reported as
	// fully changed rather than silently dropped.
	p := testProcessor(t, t.TempDir(), t.TempDir())
	p.modified("ghost", difftree.Content)

	want := []report{{"/ghost", difftree.AttrMask}}
	if got := p.reports(); !reflect.DeepEqual(got, want) {
		t.Fatalf("reports = %v, want %v", got, want)
	}
}

func TestXattrsDiffer(t *testing.T) {
	tests := []struct {
		name       string
		a, b       map[string]string
		wantXattrs bool
		wantACL    bool
	}{
		{
			name: "equal sets",
			a:    map[string]string{"user.k": "v"},
			b:    map[string]string{"user.k": "v"},
		},
		{
			name:       "value changed",
			a:          map[string]string{"user.k": "v1"},
			b:          map[string]string{"user.k": "v2"},
			wantXattrs: true,
		},
		{
			name:       "name only in first",
			a:          map[string]string{"user.k": "v"},
			b:          map[string]string{},
			wantXattrs: true,
		},
		{
			name:       "acl added",
			a:          map[string]string{},
			b:          map[string]string{"system.posix_acl_access": "x"},
			wantXattrs: true,
			wantACL:    true,
		},
		{
			name:       "acl value changed",
			a:          map[string]string{"system.posix_acl_default": "x"},
			b:          map[string]string{"system.posix_acl_default": "y"},
			wantXattrs: true,
			wantACL:    true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			xd, acld := xattrsDiffer(tc.a, tc.b)
			if xd != tc.wantXattrs || acld != tc.wantACL {
				t.Errorf("xattrsDiffer = %v,%v, want %v,%v", xd, acld, tc.wantXattrs, tc.wantACL)
			}
		})
	}
}

func TestFallbackCmpDirs(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	writeFile(t, dir1, "gone", "1", 0o644)
	writeFile(t, dir1, "kept", "same", 0o644)
	writeFile(t, dir2, "kept", "same", 0o644)
	writeFile(t, dir2, "new", "2", 0o644)
	writeFile(t, dir1, "mode", "m", 0o644)
	writeFile(t, dir2, "mode", "m", 0o600)

	p := testProcessor(t, dir1, dir2)

	var got []report
	err := FallbackCmpDirs(p.ctx, p.dir1, p.dir2, func(path string, status difftree.Status) {
		got = append(got, report{path, status})
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []report{
		{"/gone", difftree.Deleted},
		{"/mode", difftree.Permissions},
		{"/new", difftree.Created},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fallback reports = %v, want %v", got, want)
	}
}

func TestFallbackIdenticalTreesEmitNothing(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	writeFile(t, dir1, "a/b", "x", 0o644)
	writeFile(t, dir2, "a/b", "x", 0o644)

	p := testProcessor(t, dir1, dir2)
	err := FallbackCmpDirs(p.ctx, p.dir1, p.dir2, func(path string, status difftree.Status) {
		t.Errorf("unexpected report %s %v", path, status)
	})
	if err != nil {
		t.Fatal(err)
	}
}
