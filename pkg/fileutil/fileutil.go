// Package fileutil provides file system helpers shared by the readers and
// writers.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFileMode is the permission given to newly written files.
const DefaultFileMode os.FileMode = 0644

// FindFileCaseInsensitive searches dir for a regular file named filename,
// ignoring case. MIDI collections copied from Windows machines often differ
// only in case from the names given on the command line.
//
// Example:
//
//	path, err := FindFileCaseInsensitive("/path/to/dir", "Song.MID")
//	// Will find "song.mid", "SONG.MID", "Song.mid", etc.
func FindFileCaseInsensitive(dir, filename string) (string, error) {
	searchName := strings.ToLower(filename)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(entry.Name()) == searchName {
			return filepath.Join(dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("file not found: %s (searched in %s)", filename, dir)
}

// ResolvePath returns path unchanged when it names an existing file and
// otherwise falls back to a case-insensitive match in the same directory.
func ResolvePath(path string) (string, error) {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", path)
		}
		return path, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	return FindFileCaseInsensitive(filepath.Dir(path), filepath.Base(path))
}

// WriteFileAtomic hands write a temporary file next to path and renames it
// into place once write returns. On any failure the temporary file is
// removed and path is left untouched.
func WriteFileAtomic(path string, write func(f *os.File) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Chmod(targetMode(path)); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}

// targetMode keeps the permissions of an existing file at path, or
// DefaultFileMode for a new one.
func targetMode(path string) os.FileMode {
	if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
		return fi.Mode().Perm()
	}
	return DefaultFileMode
}
