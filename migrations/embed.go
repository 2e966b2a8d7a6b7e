// Package migrations embeds the SQL schema into the binary so the controller
// can migrate its database without the files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
