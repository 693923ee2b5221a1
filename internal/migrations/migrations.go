package migrations

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

const initialSchemaFile = "001_initial_schema.sql"

//go:embed schema/*.sql
var embedded embed.FS

var (
	// MigrationsDir can be overridden in tests or by the application
	MigrationsDir = getDefaultMigrationsDir()
)

func getDefaultMigrationsDir() string {
	if dir := os.Getenv("RINGRELAY_MIGRATIONS_DIR"); dir != "" {
		return dir
	}
	return "scripts/migrations"
}

// GetInitialSchema returns the initial database schema. A file in
// MigrationsDir wins over the copy compiled into the binary.
func GetInitialSchema() (string, error) {
	searchPaths := []string{
		filepath.Join(MigrationsDir, initialSchemaFile),
		filepath.Join("..", "..", MigrationsDir, initialSchemaFile),
	}

	for _, path := range searchPaths {
		content, err := os.ReadFile(path) // #nosec G304 - operator-controlled migrations directory
		if err == nil {
			return string(content), nil
		}
	}

	content, err := embedded.ReadFile("schema/" + initialSchemaFile)
	if err != nil {
		return "", fmt.Errorf("could not find schema file in any location: %w", err)
	}
	return string(content), nil
}
