// Package atomicfile writes files so readers observe either the old or the new content.
package atomicfile

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Stage writes payload into a synced temp file next to path and returns the temp file name.
// The caller renames it over path or removes it.
func Stage(path string, payload []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	tmp := f.Name()

	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "write temp file")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "sync temp file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(err, "close temp file")
	}

	return tmp, nil
}

// Write replaces path with payload atomically.
func Write(path string, payload []byte) error {
	tmp, err := Stage(path, payload)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "rename temp file")
	}

	return nil
}
