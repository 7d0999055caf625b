// Package edit applies anchored search-and-replace edits to files inside a
// checked-out repository.
package edit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrAnchorNotFound is wrapped when an edit's search text cannot be located,
// not even with whitespace-lenient matching.
var ErrAnchorNotFound = errors.New("edit: search text not found")

// Edit is one search-and-replace instruction targeting a single file. Paths
// are relative to the repository root.
type Edit struct {
	FilePath string `json:"file_path"`
	Search   string `json:"search"`
	Replace  string `json:"replace"`
}

// Apply performs a single edit under root. The first verbatim occurrence of
// the search text is replaced; if there is none, a whitespace-collapsed match
// against individual lines replaces the first matching line wholesale.
func Apply(root string, e Edit) error {
	if e.FilePath == "" || e.Search == "" {
		return fmt.Errorf("edit: missing file_path or search text")
	}

	full, err := resolvePath(root, e.FilePath)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("edit: file not found: %s", e.FilePath)
		}
		return err
	}
	content := string(raw)

	updated, ok := replaceVerbatim(content, e.Search, e.Replace)
	if !ok {
		updated, ok = replaceLenient(content, e.Search, e.Replace)
	}
	if !ok {
		return fmt.Errorf("%w in %s", ErrAnchorNotFound, e.FilePath)
	}

	info, err := os.Stat(full)
	if err != nil {
		return err
	}
	return os.WriteFile(full, []byte(updated), info.Mode().Perm())
}

// resolvePath rejects paths that escape the repository root. Model output is
// untrusted input.
func resolvePath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("edit: absolute path rejected: %s", rel)
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	cleanRoot := filepath.Clean(root)
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("edit: path escapes repository: %s", rel)
	}
	return full, nil
}

func replaceVerbatim(content, search, replace string) (string, bool) {
	if !strings.Contains(content, search) {
		return content, false
	}
	return strings.Replace(content, search, replace, 1), true
}

// replaceLenient collapses runs of whitespace on both sides and looks for the
// search text inside individual lines. On a hit the whole original line is
// replaced once.
func replaceLenient(content, search, replace string) (string, bool) {
	collapsed := strings.Join(strings.Fields(search), " ")
	if collapsed == "" {
		return content, false
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(strings.Join(strings.Fields(line), " "), collapsed) {
			return strings.Replace(content, line, replace, 1), true
		}
	}
	return content, false
}
