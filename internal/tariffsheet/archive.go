package tariffsheet

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Archive stores an imported sheet under dir as <timestamp>-<name> and returns its path.
func Archive(dir, name string, data []byte, now time.Time) (string, error) {
	path := filepath.Join(dir, now.UTC().Format("20060102T150405")+"-"+filepath.Base(name))
	if err := writeFileAtomically(path, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return path, nil
}

func writeFileAtomically(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
