// Package snapshot computes the structural diff between two materialized
// directory trees.
//
// Given the left ("before") and right ("after") temp trees produced by the
// difftool helper, Compute pairs files by relative path, classifies each
// pair, and detects renames by content hash. The resulting list is the
// published diff snapshot; it is immutable once returned.
package snapshot

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/xxh3"
)

// PairType classifies one file pair.
type PairType string

const (
	// TypeAdd is a file present only on the right side.
	TypeAdd PairType = "add"

	// TypeDelete is a file present only on the left side.
	TypeDelete PairType = "delete"

	// TypeChange is a file present on both sides.
	TypeChange PairType = "change"

	// TypeMove is a delete/add pair with identical content.
	TypeMove PairType = "move"
)

// FilePair is one compared unit of the diff snapshot.
type FilePair struct {
	// A and B are the left/right paths relative to their trees; empty
	// when the file is absent on that side.
	A string `json:"a"`
	B string `json:"b"`

	// APath and BPath are the absolute paths inside the temp trees.
	APath string `json:"-"`
	BPath string `json:"-"`

	Type PairType `json:"type"`
}

// Path returns the pair's display path: the right side if present,
// otherwise the left.
func (p FilePair) Path() string {
	if p.B != "" {
		return p.B
	}
	return p.A
}

// ThinPair is the minimal per-pair record injected into the index page.
type ThinPair struct {
	Idx  int      `json:"idx"`
	Type PairType `json:"type"`
	Path string   `json:"path"`
}

// ThinList projects pairs into their index-page form.
func ThinList(pairs []FilePair) []ThinPair {
	out := make([]ThinPair, len(pairs))
	for i, p := range pairs {
		out[i] = ThinPair{Idx: i, Type: p.Type, Path: p.Path()}
	}
	return out
}

// Compute walks both trees and returns the ordered file-pair list.
// Pairs are sorted by display path.
func Compute(leftDir, rightDir string) ([]FilePair, error) {
	leftFiles, err := listFiles(leftDir)
	if err != nil {
		return nil, fmt.Errorf("walk left tree: %w", err)
	}
	rightFiles, err := listFiles(rightDir)
	if err != nil {
		return nil, fmt.Errorf("walk right tree: %w", err)
	}

	var pairs []FilePair
	var deletes, adds []int

	for _, rel := range leftFiles {
		if containsPath(rightFiles, rel) {
			pairs = append(pairs, FilePair{
				A: rel, B: rel,
				APath: filepath.Join(leftDir, rel),
				BPath: filepath.Join(rightDir, rel),
				Type:  TypeChange,
			})
		} else {
			deletes = append(deletes, len(pairs))
			pairs = append(pairs, FilePair{
				A:     rel,
				APath: filepath.Join(leftDir, rel),
				Type:  TypeDelete,
			})
		}
	}

	for _, rel := range rightFiles {
		if !containsPath(leftFiles, rel) {
			adds = append(adds, len(pairs))
			pairs = append(pairs, FilePair{
				B:     rel,
				BPath: filepath.Join(rightDir, rel),
				Type:  TypeAdd,
			})
		}
	}

	pairs = detectMoves(pairs, deletes, adds)

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Path() < pairs[j].Path()
	})

	return pairs, nil
}

// detectMoves merges delete/add pairs whose contents hash identically into
// a single move pair. Each add matches at most one delete.
func detectMoves(pairs []FilePair, deletes, adds []int) []FilePair {
	if len(deletes) == 0 || len(adds) == 0 {
		return pairs
	}

	byHash := make(map[uint64][]int)
	for _, di := range deletes {
		h, err := hashFile(pairs[di].APath)
		if err != nil {
			continue
		}
		byHash[h] = append(byHash[h], di)
	}

	consumed := make(map[int]bool)
	for _, ai := range adds {
		h, err := hashFile(pairs[ai].BPath)
		if err != nil {
			continue
		}
		for _, di := range byHash[h] {
			if consumed[di] {
				continue
			}
			consumed[di] = true
			pairs[ai].A = pairs[di].A
			pairs[ai].APath = pairs[di].APath
			pairs[ai].Type = TypeMove
			break
		}
	}

	if len(consumed) == 0 {
		return pairs
	}

	out := pairs[:0]
	for i, p := range pairs {
		if consumed[i] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// hashFile returns the xxh3 hash of a file's contents.
func hashFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return xxh3.Hash(data), nil
}

// listFiles returns the sorted relative paths of all regular files under root.
func listFiles(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// containsPath reports whether sorted contains rel.
func containsPath(sorted []string, rel string) bool {
	i := sort.SearchStrings(sorted, rel)
	return i < len(sorted) && sorted[i] == rel
}

// FindIndex locates the pair whose side ("a" or "b") path equals rel.
// Returns -1 if no pair matches.
func FindIndex(pairs []FilePair, side, rel string) int {
	for i, p := range pairs {
		if side == "a" && p.A == rel {
			return i
		}
		if side == "b" && p.B == rel {
			return i
		}
	}
	return -1
}
