package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "embed"

	"github.com/diffdeck/diffdeck/internal/gitcli"
	"github.com/diffdeck/diffdeck/internal/repo"
	"github.com/diffdeck/diffdeck/internal/snapshot"
	"github.com/diffdeck/diffdeck/internal/state"
)

//go:embed templates/file_diff.html
var indexTemplate string

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /file/{repo}/{idx}", s.handleFile)
	mux.HandleFunc("GET /{side}/image/{repo}/{path...}", s.handleImage)
	mux.HandleFunc("GET /api/diff-changed/{repo}", s.handleDiffChanged)
	mux.HandleFunc("POST /api/server-reload/{repo}", s.handleReload)
	mux.HandleFunc("GET /api/commits/{repo}", s.handleCommits)
	mux.HandleFunc("POST /api/repos/validate", s.handleValidateRepo)
	mux.HandleFunc("POST /api/repos/update", s.handleUpdateRepos)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// repoIdx parses the {repo} path value and bounds-checks it.
func (s *Server) repoIdx(r *http.Request) (int, error) {
	idx, err := strconv.Atoi(r.PathValue("repo"))
	if err != nil {
		return 0, fmt.Errorf("bad repo index %q", r.PathValue("repo"))
	}
	if idx < 0 || idx >= s.registry.Len() {
		return 0, fmt.Errorf("invalid repo index: %d", idx)
	}
	return idx, nil
}

// handleIndex renders the diff browser page. The repo is selected by its
// label in the query string for cacheability; an unknown label redirects
// to the first repo.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	repos := s.registry.Repos()
	if len(repos) == 0 {
		writeError(w, http.StatusInternalServerError, "no repositories configured")
		return
	}

	label := r.URL.Query().Get("repo")
	if label == "" {
		label = repos[0].Label
	}

	idx := s.registry.IndexByLabel(label)
	if idx < 0 {
		http.Redirect(w, r, fmt.Sprintf("%s/?repo=%s", s.cfg.RootPath, repos[0].Label), http.StatusFound)
		return
	}

	pairs, err := s.registry.Snapshot(idx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "snapshot: %v", err)
		return
	}
	args, _ := s.registry.DiffArgs(idx)

	data := map[string]any{
		"repos":                repos,
		"current_repo_label":   label,
		"current_repo_idx":     idx,
		"pairs":                snapshot.ThinList(pairs),
		"diff_args":            args,
		"server_config":        s.cfg,
		"root_path":            s.cfg.RootPath,
		"watch_enabled":        s.registry.WatchEnabled(),
		"manage_repos_enabled": s.cfg.ManageRepos,
	}

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode page data: %v", err)
		return
	}

	html := strings.ReplaceAll(indexTemplate, "{{data}}", string(payload))
	html = strings.ReplaceAll(html, "{{root_path}}", s.cfg.RootPath)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

// fileResponse is the payload of the file endpoint: everything needed to
// render one file diff in a single request.
type fileResponse struct {
	Idx            int            `json:"idx"`
	Thick          snapshot.Thick `json:"thick"`
	Truncated      bool           `json:"truncated"`
	TruncatedLines int            `json:"truncated_lines"`
	TruncatedBytes int            `json:"truncated_bytes"`
	ContentA       *string        `json:"content_a"`
	ContentB       *string        `json:"content_b"`
	DiffOps        []snapshot.Op  `json:"diff_ops"`
	DiffError      string         `json:"diff_error,omitempty"`
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	repoIdx, err := s.repoIdx(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	pairs, err := s.registry.Snapshot(repoIdx)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	idx, err := strconv.Atoi(r.PathValue("idx"))
	if err != nil || idx < 0 || idx >= len(pairs) {
		writeError(w, http.StatusBadRequest, "invalid file index %s", r.PathValue("idx"))
		return
	}
	pair := pairs[idx]

	noTruncate := r.URL.Query().Get("no_truncate") == "1"

	resp := fileResponse{
		Idx:     idx,
		Thick:   snapshot.ThickPair(idx, pair),
		DiffOps: []snapshot.Op{},
	}

	contentA := readSide(pair.APath)
	contentB := readSide(pair.BPath)

	// Long minified lines stall the browser; warn instead of sending
	// content unless the client opts out.
	if !noTruncate {
		longA, linesA, bytesA := snapshot.CheckLongLines(deref(contentA), snapshot.MaxLineLength)
		longB, linesB, bytesB := snapshot.CheckLongLines(deref(contentB), snapshot.MaxLineLength)
		if longA || longB {
			resp.Truncated = true
			resp.TruncatedLines = linesA + linesB
			resp.TruncatedBytes = bytesA + bytesB
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	resp.ContentA = contentA
	resp.ContentB = contentB

	if !resp.Thick.ABinary && !resp.Thick.BBinary {
		resp.DiffOps = snapshot.DiffOps(deref(contentA), deref(contentB))
	}

	writeJSON(w, http.StatusOK, resp)
}

// readSide reads one side's content, substituting a marker for binary
// files and nil for absent ones.
func readSide(path string) *string {
	if path == "" {
		return nil
	}
	if snapshot.IsBinaryFile(path) {
		info, err := os.Stat(path)
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		msg := fmt.Sprintf("Binary file (%d bytes)", size)
		return &msg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		msg := fmt.Sprintf("Error reading file: %v", err)
		return &msg
	}
	content := string(data)
	return &content
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	side := r.PathValue("side")
	if side != "a" && side != "b" {
		http.NotFound(w, r)
		return
	}

	repoIdx, err := s.repoIdx(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	rel := r.PathValue("path")
	mimeType := mime.TypeByExtension(filepath.Ext(rel))
	if !strings.HasPrefix(mimeType, "image/") {
		writeError(w, http.StatusBadRequest, "wrong type")
		return
	}

	pairs, err := s.registry.Snapshot(repoIdx)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	idx := snapshot.FindIndex(pairs, side, rel)
	if idx < 0 {
		writeError(w, http.StatusBadRequest, "not found")
		return
	}

	path := pairs[idx].APath
	if side == "b" {
		path = pairs[idx].BPath
	}

	w.Header().Set("Content-Type", mimeType)
	http.ServeFile(w, r, path)
}

// noStore marks a response uncacheable; change polls must never be served
// stale.
func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func (s *Server) handleDiffChanged(w http.ResponseWriter, r *http.Request) {
	repoIdx, err := s.repoIdx(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	noStore(w)

	changed, err := s.registry.HasChanged(repoIdx)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{
		"watch_enabled": s.registry.WatchEnabled(),
		"changed":       changed,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	repoIdx, err := s.repoIdx(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	// Optional body: {"diff_args": ["HEAD~3..HEAD"]} changes the diff
	// scope; absent or malformed keeps the current arguments.
	var newArgs []string
	var body struct {
		DiffArgs []string `json:"diff_args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.DiffArgs != nil {
		newArgs = body.DiffArgs
	}

	n, err := s.registry.Refresh(r.Context(), repoIdx, newArgs)
	switch {
	case errors.Is(err, state.ErrReloadInProgress):
		writeJSON(w, http.StatusConflict, map[string]any{
			"success": false, "error": "Reload already in progress",
		})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false, "error": err.Error(),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true, "message": fmt.Sprintf("Reloaded %d files", n),
		})
	}
}

func (s *Server) handleCommits(w http.ResponseWriter, r *http.Request) {
	repoIdx, err := s.repoIdx(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	rp, err := s.registry.Repo(repoIdx)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	page, err := gitcli.New(rp.Path).Log(ctx, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleValidateRepo(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.ManageRepos {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"valid": false, "error": "Repository management not enabled (use --manage-repos flag)",
		})
		return
	}

	var body struct {
		Label string `json:"label"`
		Path  string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"valid": false, "error": fmt.Sprintf("bad request: %v", err),
		})
		return
	}

	abs, err := filepath.Abs(body.Path)
	if err == nil {
		body.Path = abs
	}

	if err := repo.Validate(body.Label, body.Path); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"valid": false, "error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true, "label": body.Label, "path": body.Path,
	})
}

func (s *Server) handleUpdateRepos(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.ManageRepos {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"success": false, "error": "Repository management not enabled (use --manage-repos flag)",
		})
		return
	}

	var body struct {
		Repos []repo.Repo `json:"repos"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": fmt.Sprintf("bad request: %v", err),
		})
		return
	}

	if err := s.registry.ReplaceAll(r.Context(), body.Repos); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false, "error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "repos": s.registry.Repos(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"repos":   s.registry.Len(),
		"clients": s.ClientCount(),
	})
}
