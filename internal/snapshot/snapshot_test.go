package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

// writeTree materializes files under dir; keys are relative paths.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestComputeClassifiesPairs(t *testing.T) {
	left := t.TempDir()
	right := t.TempDir()

	writeTree(t, left, map[string]string{
		"same.txt":    "unchanged\n",
		"changed.txt": "old\n",
		"gone.txt":    "deleted content\n",
	})
	writeTree(t, right, map[string]string{
		"same.txt":    "unchanged but present\n",
		"changed.txt": "new\n",
		"added.txt":   "brand new\n",
	})

	pairs, err := Compute(left, right)
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]PairType)
	for _, p := range pairs {
		got[p.Path()] = p.Type
	}

	want := map[string]PairType{
		"same.txt":    TypeChange,
		"changed.txt": TypeChange,
		"gone.txt":    TypeDelete,
		"added.txt":   TypeAdd,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d pairs, want %d: %v", len(got), len(want), got)
	}
	for path, typ := range want {
		if got[path] != typ {
			t.Errorf("%s: type = %q, want %q", path, got[path], typ)
		}
	}
}

func TestComputeSortsByDisplayPath(t *testing.T) {
	left := t.TempDir()
	right := t.TempDir()

	writeTree(t, left, map[string]string{"b.txt": "1", "a.txt": "2"})
	writeTree(t, right, map[string]string{"b.txt": "1", "c.txt": "3"})

	pairs, err := Compute(left, right)
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i < len(pairs); i++ {
		if pairs[i-1].Path() > pairs[i].Path() {
			t.Fatalf("pairs not sorted: %q before %q", pairs[i-1].Path(), pairs[i].Path())
		}
	}
}

func TestComputeDetectsMoves(t *testing.T) {
	left := t.TempDir()
	right := t.TempDir()

	writeTree(t, left, map[string]string{"old/name.go": "package main\n"})
	writeTree(t, right, map[string]string{"new/name.go": "package main\n"})

	pairs, err := Compute(left, right)
	if err != nil {
		t.Fatal(err)
	}

	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1 merged move: %+v", len(pairs), pairs)
	}
	p := pairs[0]
	if p.Type != TypeMove {
		t.Errorf("type = %q, want move", p.Type)
	}
	if p.A != filepath.Join("old", "name.go") || p.B != filepath.Join("new", "name.go") {
		t.Errorf("move pair sides = %q -> %q", p.A, p.B)
	}
}

func TestComputeDifferentContentIsNotMove(t *testing.T) {
	left := t.TempDir()
	right := t.TempDir()

	writeTree(t, left, map[string]string{"old.go": "package a\n"})
	writeTree(t, right, map[string]string{"new.go": "package b\n"})

	pairs, err := Compute(left, right)
	if err != nil {
		t.Fatal(err)
	}

	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want delete + add: %+v", len(pairs), pairs)
	}
}

func TestComputeEmptySides(t *testing.T) {
	pairs, err := Compute(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 0 {
		t.Fatalf("got %d pairs from empty trees", len(pairs))
	}
}

func TestThinList(t *testing.T) {
	pairs := []FilePair{
		{A: "a.txt", B: "a.txt", Type: TypeChange},
		{A: "b.txt", Type: TypeDelete},
	}

	thin := ThinList(pairs)
	if len(thin) != 2 {
		t.Fatalf("len = %d", len(thin))
	}
	if thin[0].Idx != 0 || thin[0].Path != "a.txt" || thin[0].Type != TypeChange {
		t.Errorf("thin[0] = %+v", thin[0])
	}
	if thin[1].Idx != 1 || thin[1].Path != "b.txt" || thin[1].Type != TypeDelete {
		t.Errorf("thin[1] = %+v", thin[1])
	}
}

func TestFindIndex(t *testing.T) {
	pairs := []FilePair{
		{A: "a.txt", B: "a.txt", Type: TypeChange},
		{A: "old.go", B: "new.go", Type: TypeMove},
		{B: "added.txt", Type: TypeAdd},
	}

	tests := []struct {
		side, rel string
		want      int
	}{
		{"a", "a.txt", 0},
		{"b", "a.txt", 0},
		{"a", "old.go", 1},
		{"b", "new.go", 1},
		{"a", "new.go", -1},
		{"b", "added.txt", 2},
		{"a", "missing.txt", -1},
	}
	for _, tt := range tests {
		if got := FindIndex(pairs, tt.side, tt.rel); got != tt.want {
			t.Errorf("FindIndex(%s, %s) = %d, want %d", tt.side, tt.rel, got, tt.want)
		}
	}
}
