package result

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/sznuper/cvtrigger/internal/device"
)

// ImageDir is the directory the image log writes into for the record at
// resultPath: the record path without its extension.
func ImageDir(resultPath string) string {
	return strings.TrimSuffix(resultPath, filepath.Ext(resultPath))
}

// FindImage returns the first image file under dir in lexical walk order, or
// "" when there is none or dir does not exist.
func FindImage(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && device.IsImage(path) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return found, nil
}
