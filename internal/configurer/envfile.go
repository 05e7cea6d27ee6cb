package configurer

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/clawdesk/clawdesk/util"
)

// upsertEnvFile rewrites the gateway's .env file, replacing the given keys
// in place and appending new ones. Unrelated lines, comments, and ordering
// are preserved.
func upsertEnvFile(path string, updates map[string]string) error {
	if len(updates) == 0 {
		return nil
	}
	lines := readEnvLines(path)
	remaining := make(map[string]string, len(updates))
	for k, v := range updates {
		remaining[k] = v
	}

	for i, line := range lines {
		key := envLineKey(line)
		if key == "" {
			continue
		}
		if value, ok := remaining[key]; ok {
			lines[i] = key + "=" + value
			delete(remaining, key)
		}
	}
	// Append new keys in a stable order so reruns stay diff-friendly.
	for _, key := range sortedKeys(remaining) {
		lines = append(lines, key+"="+remaining[key])
	}
	return writeEnvLines(path, lines)
}

// removeEnvKeys drops the given keys from the .env file, leaving everything
// else untouched. A missing file is not an error.
func removeEnvKeys(path string, keys []string) error {
	if !util.FileExists(path) {
		return nil
	}
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	var kept []string
	for _, line := range readEnvLines(path) {
		if drop[envLineKey(line)] {
			continue
		}
		kept = append(kept, line)
	}
	return writeEnvLines(path, kept)
}

func readEnvLines(path string) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	content := strings.ReplaceAll(string(raw), "\r\n", "\n")
	lines := strings.Split(content, "\n")
	// Drop a single trailing blank produced by the final newline.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

func writeEnvLines(path string, lines []string) error {
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return util.WriteBytesAtomic(filepath.Dir(path), filepath.Base(path), path, []byte(content))
}

// envLineKey extracts the KEY of a KEY=VALUE line, or "" for comments and
// malformed lines.
func envLineKey(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	idx := strings.Index(trimmed, "=")
	if idx <= 0 {
		return ""
	}
	return strings.TrimSpace(trimmed[:idx])
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
