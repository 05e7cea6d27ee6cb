package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// WriteJson writes a pretty-printed JSON object to file, creating parent
// directories if required. The write is atomic: content goes to a temp file
// in the target directory first and is renamed into place.
func WriteJson(file string, obj interface{}) error {
	dir, name, err := prepareFileDir(file)
	if err != nil {
		return err
	}

	bs, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	return WriteBytesAtomic(dir, name, file, bs)
}

// WriteBytesAtomic writes bs to file via a temp file in dir followed by a
// rename. The temp file is created with 0600 permissions and removed on
// every failure path.
func WriteBytesAtomic(dir, name, file string, bs []byte) error {
	tempFile, err := os.CreateTemp(dir, ".*"+name)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tempName := tempFile.Name()

	if err := os.Chmod(tempName, 0o600); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempName)
		return fmt.Errorf("set temp file permissions: %w", err)
	}

	if _, err = tempFile.Write(bs); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempName)
		return fmt.Errorf("write: %w", err)
	}
	if err = tempFile.Close(); err != nil {
		_ = os.Remove(tempName)
		return fmt.Errorf("close %s: %w", tempName, err)
	}

	if err = os.Rename(tempName, file); err != nil {
		_ = os.Remove(tempName)
		return fmt.Errorf("move %s to %s: %w", tempName, file, err)
	}
	return nil
}

// ReadJson reads a JSON file into res.
func ReadJson(file string, res interface{}) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	bs, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	return json.Unmarshal(bs, res)
}

// RemoveFile removes file if it exists.
func RemoveFile(file string) error {
	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := os.Remove(file); err != nil {
		return fmt.Errorf("remove %s: %w", file, err)
	}
	return nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// DirExists reports whether path exists and is a directory.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ListFiles returns the full paths of all files in dir that match pattern.
// Pattern uses shell-style globbing (e.g. "*.log").
func ListFiles(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// CopyFileContents copies contents of the given src file to the dst file.
func CopyFileContents(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return
	}
	defer func() {
		cErr := out.Close()
		if err == nil {
			err = cErr
		}
	}()
	if _, err = io.Copy(out, in); err != nil {
		return
	}
	err = out.Sync()
	return
}

// CopyDir recursively copies the tree at src into dst, overwriting existing
// files. Symlinks are skipped.
func CopyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return err
		}
		return CopyFileContents(path, target)
	})
}

func prepareFileDir(file string) (string, string, error) {
	dir, name := filepath.Split(file)
	if dir == "" {
		return filepath.Dir(file), name, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", "", err
	}
	return dir, name, nil
}
