package migrations

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetInitialSchema_EmbeddedFallback(t *testing.T) {
	original := MigrationsDir
	defer func() { MigrationsDir = original }()

	MigrationsDir = filepath.Join(t.TempDir(), "does-not-exist")

	schema, err := GetInitialSchema()
	require.NoError(t, err)
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS call_logs")
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS conversation_messages")
}

func TestGetInitialSchema_DirectoryOverride(t *testing.T) {
	original := MigrationsDir
	defer func() { MigrationsDir = original }()

	dir := t.TempDir()
	custom := "CREATE TABLE custom (id TEXT);"
	require.NoError(t, os.WriteFile(filepath.Join(dir, initialSchemaFile), []byte(custom), 0600))
	MigrationsDir = dir

	schema, err := GetInitialSchema()
	require.NoError(t, err)
	assert.Equal(t, custom, schema)
}

func TestInitialSchema_AppliesTwice(t *testing.T) {
	original := MigrationsDir
	defer func() { MigrationsDir = original }()
	MigrationsDir = filepath.Join(t.TempDir(), "none")

	schema, err := GetInitialSchema()
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(schema)
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err, "schema must be idempotent")

	_, err = db.Exec(`INSERT INTO call_logs (id, caller_id, callee_id, call_type, status, created_at)
		VALUES ('c1', 'a', 'b', 'hologram', 'missed', CURRENT_TIMESTAMP)`)
	assert.Error(t, err, "call type check constraint")

	_, err = db.Exec(`INSERT INTO conversations (id, participant_a, participant_b, created_at)
		VALUES ('v1', 'zed', 'amy', CURRENT_TIMESTAMP)`)
	assert.Error(t, err, "participants must be stored lower id first")
}
