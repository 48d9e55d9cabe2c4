package differ

import (
	"context"
	"reflect"
	"testing"

	"github.com/pa-sowa/snapper/internal/difftree"
	"github.com/pa-sowa/snapper/internal/dirfd"
)

// report is one callback invocation.
type report struct {
	path   string
	status difftree.Status
}

func testProcessor(t *testing.T, dir1, dir2 string) *processor {
	t.Helper()

	open := func(path string) *dirfd.Dir {
		d, err := dirfd.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { d.Close() })
		return d
	}
	return newProcessor(context.Background(), nil, open(dir1), open(dir2))
}

func (p *processor) reports() []report {
	var out []report
	p.postPass()
	p.result(func(path string, status difftree.Status) {
		out = append(out, report{path, status})
	})
	return out
}

func TestPureAddition(t *testing.T) {
	p := testProcessor(t, t.TempDir(), t.TempDir())
	p.created("a")

	want := []report{{"/a", difftree.Created}}
	if got := p.reports(); !reflect.DeepEqual(got, want) {
		t.Fatalf("reports = %v, want %v", got, want)
	}
}

func TestCreateThenDeleteLeavesNoTrace(t *testing.T) {
	p := testProcessor(t, t.TempDir(), t.TempDir())
	p.created("d")
	p.created("d/x")
	p.deleted("d/x")
	p.deleted("d")

	if got := p.reports(); got != nil {
		t.Fatalf("reports = %v, want none", got)
	}
}

func TestDeleteThenCreateIsFullAttributeTouch(t *testing.T) {
	p := testProcessor(t, t.TempDir(), t.TempDir())
	p.deleted("f")
	p.created("f")

	node := p.files.Find("f")
	if node == nil {
		t.Fatal("node missing")
	}
	if node.Status != difftree.AttrMask {
		t.Fatalf("status = %v, want full attribute mask", node.Status)
	}
}

func TestCreateThenDeleteCollapsesWithoutTrace(t *testing.T) {
	p := testProcessor(t, t.TempDir(), t.TempDir())
	p.created("g")
	p.deleted("g")
	if node := p.files.Find("g"); node != nil {
		t.Fatalf("g should be gone, has status %v", node.Status)
	}
}

func TestRenameTrackedSubtree(t *testing.T) {
	p := testProcessor(t, t.TempDir(), t.TempDir())
	p.created("d")
	p.created("d/x")
	if err := p.rename("d", "e"); err != nil {
		t.Fatal(err)
	}

	want := []report{
		{"/e", difftree.Created},
		{"/e/x", difftree.Created},
	}
	if got := p.reports(); !reflect.DeepEqual(got, want) {
		t.Fatalf("reports = %v, want %v", got, want)
	}
}

func TestRenameOntoTrackedTargetMerges(t *testing.T) {
	p := testProcessor(t, t.TempDir(), t.TempDir())
	p.created("from")
	p.created("from/x")
	p.created("to")
	p.created("to/x")

	if err := p.rename("from", "to"); err != nil {
		t.Fatal(err)
	}

	// from is gone, to was replaced in place, to/x collided with the
	// moved child and carries the full attribute touch.
	if p.files.Find("from") != nil {
		t.Fatal("from should be gone")
	}
	toNode := p.files.Find("to")
	if toNode == nil || toNode.Status&(difftree.Created|difftree.Deleted) != 0 {
		t.Fatalf("to = %+v, want attribute-touched node", toNode)
	}
	xNode := p.files.Find("to/x")
	if xNode == nil || xNode.Status != difftree.AttrMask {
		t.Fatalf("to/x = %+v, want full attribute mask", xNode)
	}
}

func TestCallbackTableIgnoresIrrelevantOps(t *testing.T) {
	p := testProcessor(t, t.TempDir(), t.TempDir())
	ops := p.ops()

	for _, fn := range []any{ops.Mknod, ops.Mkfifo, ops.Mksock, ops.Utimes, ops.Subvol, ops.Snapshot} {
		if !reflect.ValueOf(fn).IsNil() {
			t.Fatal("no-op operations should have nil callbacks")
		}
	}
}

func TestIsACLSignature(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"system.posix_acl_access", true},
		{"system.posix_acl_default", true},
		{"user.comment", false},
		{"security.selinux", false},
	}
	for _, tc := range tests {
		if got := IsACLSignature(tc.name); got != tc.want {
			t.Errorf("IsACLSignature(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSendReceiveError(t *testing.T) {
	err := &SendReceiveError{Stage: "send", Cause: context.Canceled}
	if !IsSendReceive(err) {
		t.Error("IsSendReceive should match a SendReceiveError")
	}
	if IsSendReceive(context.Canceled) {
		t.Error("IsSendReceive should not match an arbitrary error")
	}
}
