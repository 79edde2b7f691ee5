package migrations

import (
	"embed"
	"io/fs"
)

// Files exposes embedded SQL migration files, one directory per database driver.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS

// For returns the migration directory of the given driver.
func For(driver string) (fs.FS, error) {
	return fs.Sub(Files, driver)
}
