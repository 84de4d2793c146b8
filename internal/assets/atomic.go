package assets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// tempPattern keeps in-flight files hidden and outside the image allow-list,
// so listings and the watcher never see them.
const tempPattern = ".sitedesk-*.tmp"

// WriteFileAtomic writes through a temp file in the destination directory and
// renames it over path. On any failure the temp file is removed and path is
// left untouched.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// IsTempName reports whether name looks like an in-flight atomic write.
func IsTempName(name string) bool {
	matched, _ := filepath.Match(tempPattern, name)
	return matched
}
