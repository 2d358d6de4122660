// Package storage keeps uploaded agent files on local disk.
//
// Every write goes to a fresh uuid-named file, so two uploads of the same
// filename never collide and a replacement never overwrites the file a
// concurrent download might be reading.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultExt is used when the uploaded filename has no extension.
const DefaultExt = ".md"

// Store writes blobs under a single root directory and hands out paths
// relative to that root.
type Store struct {
	root string
}

// New creates root if needed and returns a Store rooted there.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("storage: creating upload directory %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the upload directory.
func (s *Store) Root() string {
	return s.root
}

// Save writes content to a new file named <uuid><ext>, where ext comes from
// originalName (DefaultExt when it has none). It returns the path relative
// to the root.
//
// The bytes land in a .tmp file first and are renamed into place, so a
// reader never sees a half-written blob.
func (s *Store) Save(content []byte, originalName string) (string, error) {
	name := uuid.New().String() + extOf(originalName)
	fullPath := filepath.Join(s.root, name)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("storage: creating temp file: %w", err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("storage: writing %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("storage: syncing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("storage: closing %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("storage: renaming %s into place: %w", name, err)
	}

	return name, nil
}

// ReadText returns the blob at relPath as a string.
func (s *Store) ReadText(relPath string) (string, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("storage: reading %s: %w", relPath, err)
	}
	return string(b), nil
}

// Delete removes the blob at relPath. A blob that is already gone is not
// an error.
func (s *Store) Delete(relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: deleting %s: %w", relPath, err)
	}
	return nil
}

// resolve joins relPath onto the root and refuses anything that would
// escape it ("../x", absolute paths).
func (s *Store) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("storage: empty path")
	}
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: path %q escapes the upload directory", relPath)
	}
	return filepath.Join(s.root, clean), nil
}

func extOf(name string) string {
	// Uploaded names may come from Windows clients.
	name = name[strings.LastIndexAny(name, `/\`)+1:]
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || ext == "." || len(ext) > 16 {
		return DefaultExt
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return DefaultExt
		}
	}
	return ext
}
