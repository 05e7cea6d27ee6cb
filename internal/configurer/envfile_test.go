package configurer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), ".env")
}

func TestUpsertEnvFileCreates(t *testing.T) {
	path := envPath(t)
	require.NoError(t, upsertEnvFile(path, map[string]string{
		"OPENAI_API_KEY": "sk-1",
		"GEMINI_API_KEY": "gm-1",
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// new keys are appended sorted
	assert.Equal(t, "GEMINI_API_KEY=gm-1\nOPENAI_API_KEY=sk-1\n", string(raw))
}

func TestUpsertEnvFilePreservesUnrelatedLines(t *testing.T) {
	path := envPath(t)
	initial := "# managed secrets\nOPENAI_API_KEY=old\nCUSTOM=keepme\n\nTRAILING=1\n"
	require.NoError(t, os.WriteFile(path, []byte(initial), 0o600))

	require.NoError(t, upsertEnvFile(path, map[string]string{
		"OPENAI_API_KEY": "new",
		"XAI_API_KEY":    "x-1",
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# managed secrets\nOPENAI_API_KEY=new\nCUSTOM=keepme\n\nTRAILING=1\nXAI_API_KEY=x-1\n", string(raw))
}

func TestUpsertEnvFileHandlesValuesWithEquals(t *testing.T) {
	path := envPath(t)
	require.NoError(t, os.WriteFile(path, []byte("TOKEN=a=b=c\n"), 0o600))
	require.NoError(t, upsertEnvFile(path, map[string]string{"TOKEN": "x=y"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "TOKEN=x=y\n", string(raw))
}

func TestRemoveEnvKeys(t *testing.T) {
	path := envPath(t)
	require.NoError(t, os.WriteFile(path, []byte("A=1\nB=2\n# note\nC=3\n"), 0o600))

	require.NoError(t, removeEnvKeys(path, []string{"B"}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "A=1\n# note\nC=3\n", string(raw))

	// removing from a missing file is a no-op
	require.NoError(t, removeEnvKeys(filepath.Join(t.TempDir(), "missing.env"), []string{"A"}))
}

func TestEnvLineKey(t *testing.T) {
	assert.Equal(t, "KEY", envLineKey("KEY=value"))
	assert.Equal(t, "KEY", envLineKey("  KEY = value"))
	assert.Equal(t, "", envLineKey("# comment"))
	assert.Equal(t, "", envLineKey(""))
	assert.Equal(t, "", envLineKey("=value"))
}

func TestSanitizeEnvValue(t *testing.T) {
	assert.Equal(t, "abc", sanitizeEnvValue("a\rb\nc"))
}
