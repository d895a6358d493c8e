// Package workcopy reads and writes the plaintext working copy, a dotenv
// style file of KEY=value lines.
package workcopy

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/illarion/envsync/internal/conflict"
	"github.com/illarion/envsync/internal/envmap"
	errs "github.com/illarion/envsync/internal/errors"
)

// FilePerm is the mode of a written working copy.
const FilePerm = 0600

// preservedHeader introduces the commented-out losing values of a conflict.
const preservedHeader = "# envsync: values not taken during conflict resolution"

// File is a working copy on an afero filesystem.
type File struct {
	fs   afero.Fs
	path string
}

// New returns the working copy at path on fs.
func New(fs afero.Fs, path string) *File {
	return &File{fs: fs, path: path}
}

// NewOS returns the working copy at path on the OS filesystem.
func NewOS(path string) *File {
	return New(afero.NewOsFs(), path)
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Exists reports whether the file exists.
func (f *File) Exists() (bool, error) {
	return afero.Exists(f.fs, f.path)
}

// Read parses the file. A missing file reads as an empty map.
func (f *File) Read() (envmap.Map, error) {
	m, _, err := f.read()
	return m, err
}

func (f *File) read() (envmap.Map, []string, error) {
	file, err := f.fs.Open(f.path)
	if os.IsNotExist(err) {
		return envmap.Map{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", f.path, err)
	}
	defer file.Close()

	m, order, err := Parse(file)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", f.path, err)
	}
	return m, order, nil
}

// Parse reads KEY=value lines. Blank lines and lines starting with # are
// skipped, an optional "export " prefix is dropped and values are kept
// verbatim. It returns the map and the order keys first appeared in.
func Parse(r io.Reader) (envmap.Map, []string, error) {
	m := envmap.Map{}
	var order []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		trimmed := strings.TrimLeft(line, " \t")
		if strings.TrimSpace(trimmed) == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		trimmed = strings.TrimPrefix(trimmed, "export ")

		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			return nil, nil, fmt.Errorf("line %d: missing '='", n)
		}
		key = strings.TrimSpace(key)
		if !envmap.ValidKey(key) {
			return nil, nil, fmt.Errorf("line %d: %w %q", n, errs.ErrInvalidKey, key)
		}

		if _, seen := m[key]; !seen {
			order = append(order, key)
		}
		m[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read: %w", err)
	}
	return m, order, nil
}

// Write replaces the file with m. Keys already in the file keep their
// position, new keys follow in sorted order, and preserved entries are
// appended as commented-out lines.
func (f *File) Write(m envmap.Map, preserved []conflict.Entry) error {
	_, order, err := f.read()
	if err != nil {
		// An unreadable old file only loses its ordering
		order = nil
	}

	data, err := Format(m, order, preserved)
	if err != nil {
		return err
	}
	return f.writeAtomic(data)
}

// Format renders m as file content. order lists keys to emit first.
func Format(m envmap.Map, order []string, preserved []conflict.Entry) ([]byte, error) {
	var buf bytes.Buffer

	emitted := make(map[string]bool, len(m))
	emit := func(k string) error {
		if emitted[k] {
			return nil
		}
		v, ok := m[k]
		if !ok {
			return nil
		}
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("value of %s spans lines", k)
		}
		emitted[k] = true
		fmt.Fprintf(&buf, "%s=%s\n", k, v)
		return nil
	}

	for _, k := range order {
		if err := emit(k); err != nil {
			return nil, err
		}
	}
	for _, k := range m.Keys() {
		if err := emit(k); err != nil {
			return nil, err
		}
	}

	if len(preserved) > 0 {
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(preservedHeader + "\n")
		entries := slices.Clone(preserved)
		slices.SortStableFunc(entries, func(a, b conflict.Entry) int {
			return strings.Compare(a.Key, b.Key)
		})
		for _, e := range entries {
			if strings.ContainsAny(e.Value, "\r\n") {
				return nil, fmt.Errorf("value of %s spans lines", e.Key)
			}
			fmt.Fprintf(&buf, "# %s=%s\n", e.Key, e.Value)
		}
	}
	return buf.Bytes(), nil
}

func (f *File) writeAtomic(data []byte) error {
	dir := filepath.Dir(f.path)
	tmp, err := afero.TempFile(f.fs, dir, "."+filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		f.fs.Remove(tmpName)
		return fmt.Errorf("failed to write working copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		f.fs.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := f.fs.Chmod(tmpName, FilePerm); err != nil {
		f.fs.Remove(tmpName)
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := f.fs.Rename(tmpName, f.path); err != nil {
		f.fs.Remove(tmpName)
		return fmt.Errorf("failed to replace working copy: %w", err)
	}
	return nil
}
