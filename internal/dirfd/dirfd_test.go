package dirfd

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"golang.org/x/sys/unix"
)

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDeepopen(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "a", "b", "c"))
	mustWrite(t, filepath.Join(root, "a", "b", "c", "f"), "x")

	d, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	sub, err := Deepopen(d, "a/b/c")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	st, err := sub.Stat("f")
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		t.Errorf("f mode = %o, want regular file", st.Mode)
	}

	// Empty relative path duplicates the handle.
	dup, err := Deepopen(d, "")
	if err != nil {
		t.Fatal(err)
	}
	defer dup.Close()
	if dup.Name() != d.Name() {
		t.Errorf("dup name = %q, want %q", dup.Name(), d.Name())
	}
}

func TestDeepopenRefusesSymlink(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "real"))
	if err := os.Symlink("real", filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	d, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if _, err := Deepopen(d, "link"); err == nil {
		t.Fatal("Deepopen through a symlink should fail")
	}
}

func TestEntriesRecursive(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "d", "y"))
	mustWrite(t, filepath.Join(root, "d", "x"), "1")
	mustWrite(t, filepath.Join(root, "d", "y", "z"), "2")
	mustWrite(t, filepath.Join(root, "a"), "3")

	d, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	got, err := d.EntriesRecursive()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "d", "d/x", "d/y", "d/y/z"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
}

func TestBorrowDoesNotClose(t *testing.T) {
	root := t.TempDir()

	f, err := os.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	d := Borrow(int(f.Fd()), root)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	// The caller's descriptor must still be usable.
	if _, err := f.Readdirnames(-1); err != nil {
		t.Fatalf("borrowed fd unusable after Close: %v", err)
	}
}

func TestOpenFileNoFollow(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "f"), "data")
	if err := os.Symlink("f", filepath.Join(root, "lnk")); err != nil {
		t.Fatal(err)
	}

	d, err := Open(root)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	f, err := d.OpenFileNoFollow("f")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := d.OpenFileNoFollow("lnk"); err == nil {
		t.Fatal("opening a symlink with O_NOFOLLOW should fail")
	}
}
