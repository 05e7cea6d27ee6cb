package configurer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
)

// hardenACL restricts a credential-bearing file to the current user:
// inheritance is stripped, then the owner gets an explicit read/write
// grant. ACL problems degrade to warnings.
func (c *Configurer) hardenACL(ctx context.Context, path string) []string {
	var warnings []string
	user := os.Getenv("USERNAME")
	if user == "" {
		return []string{fmt.Sprintf("Cannot restrict permissions on %s: USERNAME is not set.", path)}
	}
	steps := [][]string{
		{path, "/inheritance:r"},
		{path, "/grant:r", user + ":(R,W)"},
	}
	for _, args := range steps {
		out, err := c.runner.Run(ctx, cmdrunner.Command{
			Path:    "icacls",
			Args:    args,
			Timeout: 30 * time.Second,
		})
		if err != nil || out.Code != 0 {
			detail := strings.TrimSpace(out.Stderr)
			if detail == "" && err != nil {
				detail = err.Error()
			}
			warnings = append(warnings, fmt.Sprintf("Failed to restrict permissions on %s: %s", path, detail))
			return warnings
		}
	}
	return warnings
}
