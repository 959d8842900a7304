// Package sparkconf edits spark-defaults.conf style files: newline-delimited
// "key value" pairs with comments and blank lines left as they are.
package sparkconf

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magiconair/properties"
	"github.com/spf13/afero"
)

// Document is an in-memory spark-defaults.conf.
type Document struct {
	lines []string
}

// Parse splits data into lines. CRLF endings are normalized to LF.
func Parse(data []byte) *Document {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	doc := &Document{}
	if text == "" {
		return doc
	}
	text = strings.TrimSuffix(text, "\n")
	doc.lines = strings.Split(text, "\n")
	return doc
}

// Load reads path from fs. A missing file yields an empty document.
func Load(fs afero.Fs, path string) (*Document, error) {
	data, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return Parse(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data), nil
}

// lineKey returns the key of a line, or "" for blank and comment lines.
func lineKey(line string) string {
	trimmed := strings.TrimLeft(line, " \t\f")
	if trimmed == "" || trimmed[0] == '#' || trimmed[0] == '!' {
		return ""
	}
	end := strings.IndexAny(trimmed, " \t\f=:")
	if end < 0 {
		return trimmed
	}
	return trimmed[:end]
}

// Get returns the value of the first line for key.
func (d *Document) Get(key string) (string, bool) {
	for _, line := range d.lines {
		if lineKey(line) != key {
			continue
		}
		rest := strings.TrimLeft(line, " \t\f")[len(key):]
		rest = strings.TrimLeft(rest, " \t\f")
		if rest != "" && (rest[0] == '=' || rest[0] == ':') {
			rest = strings.TrimLeft(rest[1:], " \t\f")
		}
		return strings.TrimRight(rest, " \t\f"), true
	}
	return "", false
}

// Count returns how many lines carry key.
func (d *Document) Count(key string) int {
	n := 0
	for _, line := range d.lines {
		if lineKey(line) == key {
			n++
		}
	}
	return n
}

// ErrLineBreak is returned for keys or values that would span several lines.
var ErrLineBreak = errors.New("contains a line break")

// CheckValue rejects text that cannot be stored on a single line.
func CheckValue(s string) error {
	if strings.ContainsAny(s, "\r\n") {
		return fmt.Errorf("%q %w", s, ErrLineBreak)
	}
	return nil
}

// Set rewrites the first line for key in place, drops any later duplicates,
// and appends a new line when key is absent. It reports whether the document
// changed.
func (d *Document) Set(key, value string) (bool, error) {
	if err := CheckValue(key); err != nil {
		return false, fmt.Errorf("invalid key: %w", err)
	}
	if err := CheckValue(value); err != nil {
		return false, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	entry := key + " " + value
	out := d.lines[:0:0]
	found := false
	changed := false
	for _, line := range d.lines {
		if lineKey(line) != key {
			out = append(out, line)
			continue
		}
		if found {
			changed = true
			continue
		}
		found = true
		if line != entry {
			changed = true
		}
		out = append(out, entry)
	}
	if !found {
		out = append(out, entry)
		changed = true
	}
	d.lines = out
	return changed, nil
}

// Delete removes every line for key and reports whether any was removed.
func (d *Document) Delete(key string) bool {
	out := d.lines[:0:0]
	for _, line := range d.lines {
		if lineKey(line) != key {
			out = append(out, line)
		}
	}
	removed := len(out) != len(d.lines)
	d.lines = out
	return removed
}

// Keys returns the keys in file order, duplicates included.
func (d *Document) Keys() []string {
	var keys []string
	for _, line := range d.lines {
		if k := lineKey(line); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Bytes renders the document. Non-empty output always ends with a newline.
func (d *Document) Bytes() []byte {
	if len(d.lines) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, line := range d.lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Properties re-reads the rendered document with a Java properties parser,
// which is how Spark itself loads spark-defaults.conf.
func (d *Document) Properties() (*properties.Properties, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadBytes(d.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to parse as properties: %w", err)
	}
	return p, nil
}

// Save writes the document to path by renaming a sibling temp file over it,
// so a failed write never leaves a truncated file behind. The parent
// directory is created when missing and an existing file keeps its mode.
func (d *Document) Save(fs afero.Fs, path string) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	mode := os.FileMode(0644)
	if info, err := fs.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer fs.Remove(tmpName)

	if _, err := tmp.Write(d.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := fs.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", tmpName, err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
