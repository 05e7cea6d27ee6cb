// Package backup snapshots the gateway home and the installer state into
// timestamped zip archives, and restores them for rollback and failed
// upgrades.
package backup

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/internal/paths"
	"github.com/clawdesk/clawdesk/internal/statestore"
	"github.com/clawdesk/clawdesk/util"
)

// ErrNotFound is returned when a backup id does not resolve to an archive.
var ErrNotFound = errors.New("backup not found")

// Archive layout: the gateway home and the installer state live under
// distinct top-level directories so a restore can route them separately.
const (
	archiveGatewayDir = "openclaw_home"
	archiveStateDir   = "installer_state"
)

// Info describes one stored backup archive.
type Info struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// Manager creates, lists, and restores backups.
type Manager struct {
	base  paths.Paths
	store *statestore.Store
}

func NewManager(base paths.Paths, store *statestore.Store) *Manager {
	return &Manager{base: base, store: store}
}

func (m *Manager) livePaths() paths.Paths {
	return m.store.ResolvePaths(m.base)
}

// Create snapshots the current gateway home and installer state into
// backups/<prefix>-YYYYMMDD-HHMMSS.zip. The archive is assembled in a temp
// file and renamed into place so a crash never leaves a half-written backup.
func (m *Manager) Create(prefix string) (Info, error) {
	live := m.livePaths()
	if err := live.EnsureDirs(); err != nil {
		return Info{}, err
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "backup"
	}

	// Same-second snapshots get a numeric suffix; an existing archive is
	// never overwritten.
	stem := fmt.Sprintf("%s-%s", prefix, time.Now().Format("20060102-150405"))
	id := stem
	target := filepath.Join(live.BackupsDir(), id+".zip")
	for n := 2; util.FileExists(target); n++ {
		id = fmt.Sprintf("%s-%d", stem, n)
		target = filepath.Join(live.BackupsDir(), id+".zip")
	}

	temp, err := os.CreateTemp(live.BackupsDir(), ".*"+id+".zip")
	if err != nil {
		return Info{}, fmt.Errorf("create backup temp: %w", err)
	}
	tempName := temp.Name()
	cleanup := func() {
		_ = temp.Close()
		_ = os.Remove(tempName)
	}

	zw := zip.NewWriter(temp)
	if util.DirExists(live.GatewayHome()) {
		if err := addDirToZip(zw, live.GatewayHome(), archiveGatewayDir); err != nil {
			cleanup()
			return Info{}, fmt.Errorf("archive gateway home: %w", err)
		}
	}
	if util.DirExists(live.StateDir()) {
		if err := addDirToZip(zw, live.StateDir(), archiveStateDir); err != nil {
			cleanup()
			return Info{}, fmt.Errorf("archive installer state: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return Info{}, fmt.Errorf("finalize backup archive: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempName)
		return Info{}, err
	}
	if err := os.Rename(tempName, target); err != nil {
		_ = os.Remove(tempName)
		return Info{}, fmt.Errorf("move backup into place: %w", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return Info{}, err
	}
	log.Infof("Backup created: %s (%d bytes)", target, info.Size())
	return Info{ID: id, Path: target, CreatedAt: info.ModTime(), SizeBytes: info.Size()}, nil
}

// List returns all backups, newest first.
func (m *Manager) List() ([]Info, error) {
	files, err := util.ListFiles(m.livePaths().BackupsDir(), "*.zip")
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(files))
	for _, path := range files {
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			ID:        strings.TrimSuffix(filepath.Base(path), ".zip"),
			Path:      path,
			CreatedAt: stat.ModTime(),
			SizeBytes: stat.Size(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

func (m *Manager) find(id string) (Info, error) {
	infos, err := m.List()
	if err != nil {
		return Info{}, err
	}
	for _, info := range infos {
		if info.ID == id {
			return info, nil
		}
	}
	return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// addDirToZip writes the tree rooted at src under the archive path root.
// Symlinks are skipped; backups hold content, not link structure.
func addDirToZip(zw *zip.Writer, src, root string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		name := root + "/" + filepath.ToSlash(rel)

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		_ = f.Close()
		return err
	})
}
