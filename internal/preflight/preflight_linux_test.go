package preflight

import "testing"

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"6.8.0", "3.6", 1},
		{"3.6", "3.6", 0},
		{"3.5.7", "3.6", -1},
		{"6.8.0-generic", "6.8.0", 0},
		{"6.8.0-rc1", "6.8", 0},
		{"6.8.1", "6.8.0", 1},
		{"5.15", "6.1", -1},
	}
	for _, tc := range tests {
		got, err := CompareVersions(tc.v1, tc.v2)
		if err != nil {
			t.Errorf("CompareVersions(%q, %q) failed: %v", tc.v1, tc.v2, err)
			continue
		}
		if got != tc.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tc.v1, tc.v2, got, tc.want)
		}
	}
}

func TestCompareVersionsInvalid(t *testing.T) {
	for _, v := range []string{"", "6", "not-a-version", "a.b"} {
		if _, err := CompareVersions(v, "3.6"); err == nil {
			t.Errorf("CompareVersions(%q, ...) should fail", v)
		}
	}
}

func TestKernelVersion(t *testing.T) {
	v, err := KernelVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v == "" {
		t.Fatal("empty kernel version")
	}
	if _, err := parseRelease(v); err != nil {
		t.Fatalf("running kernel version %q does not parse: %v", v, err)
	}
}
