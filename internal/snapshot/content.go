package snapshot

import (
	"bytes"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MaxLineLength is the column threshold past which file content is
// withheld by default; minified bundles lock up browser-side rendering.
const MaxLineLength = 500

// binarySniffLen is how many leading bytes are inspected for NUL when
// deciding whether a file is binary, mirroring git's own heuristic.
const binarySniffLen = 8000

// Op is one diff operation between the two sides of a pair.
type Op struct {
	// Type is "equal", "insert", or "delete".
	Type string `json:"type"`
	Text string `json:"text"`
}

// Thick is the full per-pair record served by the file endpoint.
type Thick struct {
	Idx     int      `json:"idx"`
	Type    PairType `json:"type"`
	A       string   `json:"a"`
	B       string   `json:"b"`
	ASize   int64    `json:"a_size"`
	BSize   int64    `json:"b_size"`
	ABinary bool     `json:"a_binary"`
	BBinary bool     `json:"b_binary"`
}

// ThickPair builds the thick record for one pair.
func ThickPair(idx int, p FilePair) Thick {
	t := Thick{Idx: idx, Type: p.Type, A: p.A, B: p.B}
	if p.APath != "" {
		t.ASize = fileSize(p.APath)
		t.ABinary = IsBinaryFile(p.APath)
	}
	if p.BPath != "" {
		t.BSize = fileSize(p.BPath)
		t.BBinary = IsBinaryFile(p.BPath)
	}
	return t
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// IsBinaryFile reports whether the file looks binary: a NUL byte within
// the first binarySniffLen bytes.
func IsBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, binarySniffLen)
	n, _ := f.Read(buf)
	return bytes.IndexByte(buf[:n], 0) >= 0
}

// CheckLongLines reports whether content contains lines longer than max,
// along with how many lines are affected and the total bytes past the limit.
func CheckLongLines(content string, max int) (bool, int, int) {
	if content == "" {
		return false, 0, 0
	}

	affected, over := 0, 0
	for _, line := range strings.Split(content, "\n") {
		if len(line) > max {
			affected++
			over += len(line) - max
		}
	}
	return affected > 0, affected, over
}

// DiffOps computes line-level diff operations between the two texts.
func DiffOps(textA, textB string) []Op {
	dmp := diffmatchpatch.New()

	// Line-mode diff: collapse lines to runes, diff, expand back.
	a, b, lines := dmp.DiffLinesToChars(textA, textB)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	ops := make([]Op, 0, len(diffs))
	for _, d := range diffs {
		var typ string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			typ = "insert"
		case diffmatchpatch.DiffDelete:
			typ = "delete"
		default:
			typ = "equal"
		}
		ops = append(ops, Op{Type: typ, Text: d.Text})
	}
	return ops
}
