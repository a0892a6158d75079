package gitcli

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Commit is one entry of a repository's commit history.
type Commit struct {
	Hash      string `json:"hash"`
	ShortHash string `json:"short_hash"`
	Message   string `json:"message"`
	Author    string `json:"author"`
	Date      string `json:"date"`
	Relative  string `json:"relative"`
}

// LogPage is one page of commit history.
type LogPage struct {
	Commits []Commit `json:"commits"`
	HasMore bool     `json:"has_more"`
	Branch  string   `json:"branch,omitempty"`
}

// logFormat is the pretty format for Log: hash|short|subject|author|ISO date.
const logFormat = "--pretty=format:%H|%h|%s|%an|%aI"

// Log returns up to limit commits starting at offset, newest first.
// HasMore is set when at least one more commit exists past the page.
func (r *Runner) Log(ctx context.Context, limit, offset int) (*LogPage, error) {
	if limit <= 0 {
		limit = 50
	}

	page := &LogPage{Commits: []Commit{}}

	// Branch name is best-effort; detached HEAD leaves it empty.
	if branch, err := r.CurrentBranch(ctx); err == nil {
		page.Branch = branch
	}

	// Fetch one extra commit to detect whether more pages exist.
	cmd := r.Command(ctx, "log", logFormat,
		fmt.Sprintf("-n%d", limit+1), fmt.Sprintf("--skip=%d", offset))

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git log failed: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > limit {
		page.HasMore = true
		lines = lines[:limit]
	}

	now := time.Now()
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 5)
		if len(parts) < 5 {
			continue
		}

		c := Commit{
			Hash:      parts[0],
			ShortHash: parts[1],
			Message:   parts[2],
			Author:    parts[3],
			Date:      parts[4],
		}
		c.Relative = relativeTime(now, parts[4])
		page.Commits = append(page.Commits, c)
	}

	return page, nil
}

// relativeTime formats an ISO 8601 timestamp as a rough "Nd ago" string.
// Falls back to the date portion if the timestamp cannot be parsed.
func relativeTime(now time.Time, iso string) string {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		if len(iso) >= 10 {
			return iso[:10]
		}
		return iso
	}

	d := now.Sub(t)
	switch {
	case d >= 365*24*time.Hour:
		return fmt.Sprintf("%dy ago", int(d.Hours()/(365*24)))
	case d >= 30*24*time.Hour:
		return fmt.Sprintf("%dmo ago", int(d.Hours()/(30*24)))
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return "just now"
	}
}
