package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateMigrationWritesPair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "migrations")
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	upPath, downPath, err := createMigration(dir, "add_rooms_index", now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "20260901120000_add_rooms_index.up.sql"), upPath)
	require.FileExists(t, downPath)

	data, err := os.ReadFile(upPath)
	require.NoError(t, err)
	require.Equal(t, "-- up migration\n", string(data))

	_, _, err = createMigration(dir, "add_rooms_index", now)
	require.Error(t, err)
}

func TestCreateMigrationRejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "  ", "two words", "a/b"} {
		_, _, err := createMigration(t.TempDir(), name, time.Now())
		require.Error(t, err, name)
	}
}
