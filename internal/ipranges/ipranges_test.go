package ipranges

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ranges.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadV4AndContains(t *testing.T) {
	path := writeTemp(t, "# comment\n\n1.0.1.0 1.0.1.255\n1.0.8.0 1.0.15.255\n")
	tbl := New()
	n, err := tbl.LoadV4File(path)
	if err != nil {
		t.Fatalf("LoadV4File: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d ranges, want 2", n)
	}
	if !tbl.ContainsString("1.0.1.1") {
		t.Error("1.0.1.1 should be in range")
	}
	if tbl.ContainsString("1.0.2.1") {
		t.Error("1.0.2.1 should not be in range")
	}
	if !tbl.ContainsString("1.0.15.255") {
		t.Error("boundary end should be in range")
	}
}

func TestLoadV6AndContains(t *testing.T) {
	path := writeTemp(t, "2400:3200:: 2400:3200:ffff:ffff:ffff:ffff:ffff:ffff\n")
	tbl := New()
	if _, err := tbl.LoadV6File(path); err != nil {
		t.Fatalf("LoadV6File: %v", err)
	}
	if !tbl.ContainsString("2400:3200::1") {
		t.Error("expected address in v6 range")
	}
	if tbl.ContainsString("2400:3201::1") {
		t.Error("address should not be in v6 range")
	}
}

func TestSortedAfterLoad(t *testing.T) {
	path := writeTemp(t, "2.0.0.0 2.0.0.255\n1.0.0.0 1.0.0.255\n3.0.0.0 3.0.0.255\n")
	tbl := New()
	if _, err := tbl.LoadV4File(path); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(tbl.v4); i++ {
		if tbl.v4[i-1].start > tbl.v4[i].start {
			t.Fatalf("ranges not sorted by start: %v", tbl.v4)
		}
	}
}

func TestContainsEmptyTable(t *testing.T) {
	tbl := New()
	if tbl.Contains(net.ParseIP("1.2.3.4")) {
		t.Error("empty table should never contain anything")
	}
}
