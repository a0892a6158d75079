// Package repo defines repository descriptors and their validation rules.
//
// A descriptor is a (label, path) pair naming one git repository whose diff
// the server exposes. Descriptors are immutable once validated; the only
// mutation path is replacing the whole set through the state registry.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Repo describes one repository being served.
type Repo struct {
	// Label is the unique display name. Labels never contain ':' because
	// the CLI uses it as the label/path separator.
	Label string `json:"label"`

	// Path is the absolute path to the repository root.
	Path string `json:"path"`
}

// ParseArg parses a --git-repo argument of the form "label:/path" or
// "/path" (label defaults to the directory basename). The path is made
// absolute but not validated; call Validate for that.
func ParseArg(arg string) (Repo, error) {
	var label, path string

	if i := strings.Index(arg, ":"); i >= 0 {
		label = arg[:i]
		path = arg[i+1:]
	} else {
		path = arg
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Repo{}, fmt.Errorf("resolve path %q: %w", path, err)
	}

	if label == "" {
		label = filepath.Base(abs)
	}

	return Repo{Label: label, Path: abs}, nil
}

// EnsureUniqueLabels disambiguates duplicate labels by appending a numeric
// suffix, preserving order. The first occurrence keeps its original label.
func EnsureUniqueLabels(repos []Repo) []Repo {
	counts := make(map[string]int)
	out := make([]Repo, 0, len(repos))

	for _, r := range repos {
		label := r.Label
		if n, ok := counts[r.Label]; ok {
			label = fmt.Sprintf("%s-%d", r.Label, n)
			counts[r.Label] = n + 1
		} else {
			counts[r.Label] = 1
		}
		out = append(out, Repo{Label: label, Path: r.Path})
	}

	return out
}

// Validate checks a single repository descriptor. It returns nil if the
// label is well-formed and the path is an absolute, existing directory
// containing git metadata.
func Validate(label, path string) error {
	if strings.TrimSpace(label) == "" {
		return fmt.Errorf("label cannot be empty")
	}
	if strings.Contains(label, ":") {
		return fmt.Errorf("label cannot contain colon (:)")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("path must be absolute")
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("path does not exist")
	}
	if err != nil {
		return fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory")
	}

	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return fmt.Errorf("path is not a git repository (no .git)")
	}

	return nil
}

// ValidateList checks a full candidate repository set: it must be non-empty
// with unique labels and unique normalized paths, and every entry must pass
// Validate. The first violation is reported.
func ValidateList(repos []Repo) error {
	if len(repos) == 0 {
		return fmt.Errorf("must have at least one repository")
	}

	labels := make(map[string]bool, len(repos))
	paths := make(map[string]bool, len(repos))

	for _, r := range repos {
		if labels[r.Label] {
			return fmt.Errorf("duplicate label: %s", r.Label)
		}
		labels[r.Label] = true

		norm, err := filepath.Abs(filepath.Clean(r.Path))
		if err != nil {
			return fmt.Errorf("normalize path %q: %w", r.Path, err)
		}
		if paths[norm] {
			return fmt.Errorf("duplicate path: %s", norm)
		}
		paths[norm] = true

		if err := Validate(r.Label, r.Path); err != nil {
			return fmt.Errorf("invalid repo %q: %w", r.Label, err)
		}
	}

	return nil
}
