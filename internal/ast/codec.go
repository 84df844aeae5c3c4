package ast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Format is the on-disk encoding of a module.
type Format uint8

const (
	FormatMsgpack Format = iota
	FormatJSON
)

// FormatForPath picks the encoding from the file name:
// *.ast.json is JSON, *.ast.mp / *.msgpack is msgpack.
func FormatForPath(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FormatJSON, nil
	case ".mp", ".msgpack":
		return FormatMsgpack, nil
	default:
		return FormatMsgpack, fmt.Errorf("unsupported AST file extension %q", ext)
	}
}

// Decode reads one module from r.
func Decode(r io.Reader, format Format) (*Module, error) {
	m := &Module{}
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(m); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		if err := msgpack.NewDecoder(r).Decode(m); err != nil {
			return nil, fmt.Errorf("decode msgpack: %w", err)
		}
	}
	m.fillArenas()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode writes m to w.
func Encode(w io.Writer, m *Module, format Format) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}
	return msgpack.NewEncoder(w).Encode(m)
}

// Load reads a module file, choosing the format from its name.
func Load(path string) (*Module, []byte, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, nil, err
	}
	// #nosec G304 -- path is provided by the caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	m, err := Decode(bytes.NewReader(data), format)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, data, nil
}

// Save writes a module file, choosing the format from its name.
func Save(path string, m *Module) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, m, format); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

func (m *Module) fillArenas() {
	if m.Types == nil {
		m.Types = NewArena[TypeDesc](0)
	}
	if m.Vars == nil {
		m.Vars = NewArena[Var](0)
	}
	if m.Funcs == nil {
		m.Funcs = NewArena[Func](0)
	}
	if m.Stmts == nil {
		m.Stmts = NewArena[Stmt](0)
	}
	if m.Exprs == nil {
		m.Exprs = NewArena[Expr](0)
	}
}
