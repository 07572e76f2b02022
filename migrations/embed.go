// Package migrations embeds the SQL schema for the state database.
//
// Importing it registers the files with the database package, so the
// bridge can create its tables without the SQL being on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/findmy-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.RegisterMigrations(files, ".")
}
