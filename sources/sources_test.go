package sources

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindProgressiveSuffix(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "b", "c.rs")
	if err := os.MkdirAll(filepath.Dir(nested), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(nested, []byte("fn main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFinder(dir)
	got, err := f.Find("a/b/c.rs")
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if got != nested {
		t.Errorf("Find() = %q, want %q", got, nested)
	}
}

func TestFindFallsBackToBareFilename(t *testing.T) {
	dir := t.TempDir()
	flat := filepath.Join(dir, "c.rs")
	if err := os.WriteFile(flat, []byte("fn main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFinder(dir)
	got, err := f.Find("a/b/c.rs")
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if got != flat {
		t.Errorf("Find() = %q, want %q", got, flat)
	}
}

func TestFindAbsolutePathReturnedDirectly(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "main.rs")
	if err := os.WriteFile(abs, []byte("fn main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFinder("")
	got, err := f.Find(abs)
	if err != nil {
		t.Fatalf("Find() error: %v", err)
	}
	if got != abs {
		t.Errorf("Find() = %q, want %q", got, abs)
	}
}

func TestFindErrorsWhenNothingMatches(t *testing.T) {
	f := NewFinder(t.TempDir())
	if _, err := f.Find("nope/nothing.rs"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetSrcPathSplitsOnSemicolon(t *testing.T) {
	f := NewFinder("/a;/b; /c ")
	want := []string{"/a", "/b", "/c"}
	if len(f.Roots) != len(want) {
		t.Fatalf("Roots = %v, want %v", f.Roots, want)
	}
	for i := range want {
		if f.Roots[i] != want[i] {
			t.Errorf("Roots[%d] = %q, want %q", i, f.Roots[i], want[i])
		}
	}
}
