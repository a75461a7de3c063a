package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStem(t *testing.T) {
	cases := map[string]string{
		"customers.csv":         "customers",
		"/tmp/x/report.v2.xlsx": "report.v2",
		"noext":                 "noext",
	}
	for in, want := range cases {
		if got := FileStem(in); got != want {
			t.Fatalf("FileStem(%q): got %q want %q", in, got, want)
		}
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "report.xlsx")
	if err := WriteFileAtomic(path, []byte("payload")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("unexpected content %q", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected temp file to be renamed away, got %d entries", len(entries))
	}
}
