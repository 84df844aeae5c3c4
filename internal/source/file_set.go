package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"fortio.org/safecast"
)

// FileSet maps FileIDs to the module file names found in the lowered AST.
// Content is never loaded: the frontend already resolved line/column pairs.
type FileSet struct {
	paths []string          // index 0 is reserved for NoFile
	index map[string]FileID // normalized path -> id
}

// NewFileSet creates an empty FileSet.
func NewFileSet() *FileSet {
	return &FileSet{
		paths: []string{""},
		index: make(map[string]FileID),
	}
}

// Add registers path and returns its id; registering the same path twice
// returns the existing id.
func (fs *FileSet) Add(path string) FileID {
	norm := normalizePath(path)
	if id, ok := fs.index[norm]; ok {
		return id
	}
	n, err := safecast.Conv[uint32](len(fs.paths))
	if err != nil {
		panic(fmt.Errorf("file set overflow: %w", err))
	}
	id := FileID(n)
	fs.paths = append(fs.paths, norm)
	fs.index[norm] = id
	return id
}

// Lookup returns the id of an already registered path.
func (fs *FileSet) Lookup(path string) (FileID, bool) {
	id, ok := fs.index[normalizePath(path)]
	return id, ok
}

// Path returns the file name of id, or "" for unknown ids.
func (fs *FileSet) Path(id FileID) string {
	if fs == nil || int(id) >= len(fs.paths) {
		return ""
	}
	return fs.paths[id]
}

// Len returns the number of registered files.
func (fs *FileSet) Len() int {
	return len(fs.paths) - 1
}

// Format renders pos as "path:line:col", falling back to "<unknown>".
func (fs *FileSet) Format(pos Pos) string {
	path := fs.Path(pos.File)
	if path == "" {
		path = "<unknown>"
	}
	if pos.Line == 0 {
		return path
	}
	if pos.Col == 0 {
		return fmt.Sprintf("%s:%d", path, pos.Line)
	}
	return fmt.Sprintf("%s:%d:%d", path, pos.Line, pos.Col)
}

func normalizePath(path string) string {
	if path == "" {
		return path
	}
	// Windows-пути приводим к прямым слешам
	return filepath.ToSlash(filepath.Clean(strings.TrimSpace(path)))
}
