package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIsBinaryFile(t *testing.T) {
	dir := t.TempDir()

	text := filepath.Join(dir, "text.txt")
	if err := os.WriteFile(text, []byte("plain text\nwith lines\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(dir, "bin.dat")
	if err := os.WriteFile(bin, []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}, 0o644); err != nil {
		t.Fatal(err)
	}

	if IsBinaryFile(text) {
		t.Error("text file reported binary")
	}
	if !IsBinaryFile(bin) {
		t.Error("binary file reported text")
	}
	if IsBinaryFile(filepath.Join(dir, "missing")) {
		t.Error("missing file reported binary")
	}
}

func TestIsBinaryFileNulPastSniffWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late-nul.dat")

	content := append([]byte(strings.Repeat("a", binarySniffLen+100)), 0x00)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// NUL past the sniff window does not flag the file.
	if IsBinaryFile(path) {
		t.Error("NUL outside sniff window reported binary")
	}
}

func TestCheckLongLines(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		max       int
		wantLong  bool
		wantLines int
		wantOver  int
	}{
		{"empty", "", 10, false, 0, 0},
		{"short lines", "ab\ncd\n", 10, false, 0, 0},
		{"one long line", strings.Repeat("x", 15), 10, true, 1, 5},
		{"two long lines", strings.Repeat("x", 12) + "\n" + strings.Repeat("y", 14), 10, true, 2, 6},
		{"exactly max", strings.Repeat("x", 10), 10, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			long, lines, over := CheckLongLines(tt.content, tt.max)
			if long != tt.wantLong || lines != tt.wantLines || over != tt.wantOver {
				t.Errorf("CheckLongLines = (%v, %d, %d), want (%v, %d, %d)",
					long, lines, over, tt.wantLong, tt.wantLines, tt.wantOver)
			}
		})
	}
}

func TestDiffOps(t *testing.T) {
	a := "line one\nline two\nline three\n"
	b := "line one\nline 2\nline three\n"

	ops := DiffOps(a, b)
	if len(ops) == 0 {
		t.Fatal("no ops returned")
	}

	var sawInsert, sawDelete bool
	var rebuiltA, rebuiltB strings.Builder
	for _, op := range ops {
		switch op.Type {
		case "equal":
			rebuiltA.WriteString(op.Text)
			rebuiltB.WriteString(op.Text)
		case "delete":
			sawDelete = true
			rebuiltA.WriteString(op.Text)
		case "insert":
			sawInsert = true
			rebuiltB.WriteString(op.Text)
		default:
			t.Fatalf("unexpected op type %q", op.Type)
		}
	}

	if !sawInsert || !sawDelete {
		t.Errorf("expected both insert and delete ops, got insert=%v delete=%v", sawInsert, sawDelete)
	}
	if rebuiltA.String() != a {
		t.Errorf("ops do not reconstruct left side:\n%q\nwant\n%q", rebuiltA.String(), a)
	}
	if rebuiltB.String() != b {
		t.Errorf("ops do not reconstruct right side:\n%q\nwant\n%q", rebuiltB.String(), b)
	}
}

func TestDiffOpsIdentical(t *testing.T) {
	ops := DiffOps("same\n", "same\n")
	for _, op := range ops {
		if op.Type != "equal" {
			t.Errorf("identical inputs produced %q op", op.Type)
		}
	}
}

func TestThickPair(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(aPath, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := FilePair{A: "a.txt", APath: aPath, Type: TypeDelete}
	thick := ThickPair(3, p)

	if thick.Idx != 3 || thick.Type != TypeDelete {
		t.Errorf("thick = %+v", thick)
	}
	if thick.ASize != 5 {
		t.Errorf("ASize = %d, want 5", thick.ASize)
	}
	if thick.ABinary {
		t.Error("text file flagged binary")
	}
	if thick.BSize != 0 || thick.BBinary {
		t.Errorf("absent B side = size %d binary %v", thick.BSize, thick.BBinary)
	}
}
