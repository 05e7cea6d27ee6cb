package backup

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/clawdesk/clawdesk/util"
)

// RollbackResult reports the backup that was restored and the safety
// snapshot taken just before, so a bad rollback can itself be undone.
type RollbackResult struct {
	FromBackup Info `json:"from_backup"`
	AutoBackup Info `json:"auto_backup"`
}

// Rollback restores the named backup. A fresh pre-rollback snapshot is
// always taken first so even a rollback can be undone.
func (m *Manager) Rollback(id string) (RollbackResult, error) {
	target, err := m.find(id)
	if err != nil {
		return RollbackResult{}, err
	}
	safety, err := m.Create("pre-rollback")
	if err != nil {
		return RollbackResult{}, fmt.Errorf("pre-rollback snapshot: %w", err)
	}
	log.Infof("Pre-rollback snapshot stored as %s", safety.ID)

	if err := m.restore(target); err != nil {
		return RollbackResult{}, err
	}
	log.Infof("Rolled back to backup %s", target.ID)
	return RollbackResult{FromBackup: target, AutoBackup: safety}, nil
}

// restore extracts the archive into a scratch directory first and only then
// copies it over the live trees, so a corrupt archive is rejected before
// anything is touched.
func (m *Manager) restore(info Info) error {
	live := m.livePaths()
	scratch := filepath.Join(live.BackupsDir(), ".restore-"+uuid.New().String())
	if err := os.MkdirAll(scratch, 0o750); err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warnf("remove restore scratch dir: %v", err)
		}
	}()

	if err := extractZip(info.Path, scratch); err != nil {
		return fmt.Errorf("extract backup %s: %w", info.ID, err)
	}

	restored := false
	if src := filepath.Join(scratch, archiveGatewayDir); util.DirExists(src) {
		if err := util.CopyDir(src, live.GatewayHome()); err != nil {
			return fmt.Errorf("restore gateway home: %w", err)
		}
		restored = true
	}
	if src := filepath.Join(scratch, archiveStateDir); util.DirExists(src) {
		if err := util.CopyDir(src, live.StateDir()); err != nil {
			return fmt.Errorf("restore installer state: %w", err)
		}
		restored = true
	}
	if !restored {
		return fmt.Errorf("backup %s holds no restorable content", info.ID)
	}
	return nil
}

// extractZip unpacks archive into dest, refusing entries whose resolved
// path would escape dest.
func extractZip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	destRoot := filepath.Clean(dest) + string(os.PathSeparator)
	for _, f := range r.File {
		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(filepath.Clean(target)+string(os.PathSeparator), destRoot) &&
			filepath.Clean(target) != filepath.Clean(dest) {
			return fmt.Errorf("archive entry escapes extraction root: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return err
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
