//go:build !windows

package configurer

import (
	"context"
	"fmt"
	"os"
)

// hardenACL tightens file permissions to owner read/write.
func (c *Configurer) hardenACL(_ context.Context, path string) []string {
	if err := os.Chmod(path, 0o600); err != nil {
		return []string{fmt.Sprintf("Failed to restrict permissions on %s: %v", path, err)}
	}
	return nil
}
