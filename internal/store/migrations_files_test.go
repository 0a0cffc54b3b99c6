package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		require.False(t, byVersion[version][direction], "duplicate %s migration for version %s", direction, version)
		byVersion[version][direction] = true
	}

	require.NotEmpty(t, byVersion, "no migrations discovered")
	for version, dirs := range byVersion {
		assert.True(t, dirs["up"] && dirs["down"], "version %s must include both up and down files", version)
	}
}

func TestPendingFlushesMigrationDefinesOutbox(t *testing.T) {
	contents, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0001_pending_flushes.up.sql"))
	require.NoError(t, err)

	sql := string(contents)
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS pending_flushes",
		"document_name TEXT PRIMARY KEY",
		"state BYTEA NOT NULL",
		"version BIGINT NOT NULL DEFAULT 1",
	} {
		assert.Contains(t, sql, want)
	}
}
