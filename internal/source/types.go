package source

import "fmt"

// FileID identifies a file name registered in a FileSet.
type FileID uint32

// NoFile marks a position that does not belong to any registered file.
const NoFile FileID = 0

// Pos is a human-readable source position carried by every lowered node.
// Line and Col are 1-based; zero means "unknown".
type Pos struct {
	File FileID
	Line uint32
	Col  uint32
}

// IsValid reports whether the position points into a known file.
func (p Pos) IsValid() bool {
	return p.File != NoFile && p.Line != 0
}

// Before orders positions within the same file.
func (p Pos) Before(other Pos) bool {
	if p.File != other.File {
		return p.File < other.File
	}
	if p.Line != other.Line {
		return p.Line < other.Line
	}
	return p.Col < other.Col
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d:%d", p.File, p.Line, p.Col)
}
