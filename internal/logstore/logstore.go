// Package logstore exposes the installer's log directory to the maintenance
// surface: listing, tailing, and exporting log files.
package logstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/util"
)

// ErrInvalidName rejects log names that are not plain file names inside the
// log directory.
var ErrInvalidName = errors.New("invalid log file name")

// DefaultTailLines is used when the caller does not bound the read.
const DefaultTailLines = 500

// maxTailLines caps a single read regardless of the caller's request.
const maxTailLines = 5000

// Entry describes one log file.
type Entry struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store reads the log directory.
type Store struct {
	paths paths.Paths
}

func New(p paths.Paths) *Store {
	return &Store{paths: p}
}

// LogsDirPath returns the absolute log directory path.
func (s *Store) LogsDirPath() string {
	return s.paths.LogsDir()
}

// List returns all log files, newest first.
func (s *Store) List() ([]Entry, error) {
	files, err := util.ListFiles(s.paths.LogsDir(), "*.log*")
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(files))
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		entries = append(entries, Entry{
			Name:       filepath.Base(path),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ModifiedAt.After(entries[j].ModifiedAt) })
	return entries, nil
}

// Read returns the last maxLines lines of the named log.
func (s *Store) Read(name string, maxLines int) ([]string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	if maxLines <= 0 {
		maxLines = DefaultTailLines
	}
	if maxLines > maxTailLines {
		maxLines = maxTailLines
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read log %s: %w", name, err)
	}
	lines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, nil
}

// Export copies the named log to destination. Environment references in the
// destination (e.g. %USERPROFILE%) are expanded first.
func (s *Store) Export(name, destination string) (string, error) {
	src, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	dest, err := paths.Normalize(paths.ExpandEnv(destination))
	if err != nil {
		return "", err
	}
	if util.DirExists(dest) {
		dest = filepath.Join(dest, name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", err
	}
	if err := util.CopyFileContents(src, dest); err != nil {
		return "", fmt.Errorf("export log %s: %w", name, err)
	}
	log.Infof("Exported log %s to %s", name, dest)
	return dest, nil
}

// resolve validates that name is a bare file name of an existing log inside
// the log directory.
func (s *Store) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(s.paths.LogsDir(), name)
	if !util.FileExists(path) {
		return "", fmt.Errorf("log file not found: %s", name)
	}
	return path, nil
}
