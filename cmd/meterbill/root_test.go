package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUsersCreate_Memory(t *testing.T) {
	out, err := run(t, "--db-driver", "memory", "users", "create", "alice", "--password", "secret123", "--admin")
	require.NoError(t, err)
	assert.Contains(t, out, "created admin user alice")
}

func TestInvalidFlagValueFailsValidation(t *testing.T) {
	_, err := run(t, "--db-driver", "memory", "--log-format", "xml", "users", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}

func TestMigrateRequiresSQLDriver(t *testing.T) {
	_, err := run(t, "--db-driver", "memory", "migrate", "up")
	assert.ErrorContains(t, err, "sqlite or postgres")
}

func TestTariffsImport_DryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheet.txt")
	require.NoError(t, os.WriteFile(path, []byte("Electricity: 6.50 per kWh from 2024-01-01\n"), 0o600))

	out, err := run(t, "--db-driver", "memory", "tariffs", "import", path, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "electricity")
	assert.Contains(t, out, "6.50")
	assert.NotContains(t, out, "imported")
}

func TestTariffsImport_Archives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sheet.txt")
	archive := filepath.Join(dir, "archive")
	require.NoError(t, os.WriteFile(path, []byte("Gas: 7.95 from 2024-01-01\n"), 0o600))

	out, err := run(t, "--db-driver", "memory", "tariffs", "import", path, "--archive-dir", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 tariffs")

	entries, err := os.ReadDir(archive)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "-sheet.txt")
}

func TestSeedSample_Memory(t *testing.T) {
	out, err := run(t, "--db-driver", "memory", "seed", "sample", "--months", "3", "--seed", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "user test / test1234")
}
