package migrations

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the outbound schema for postgres at the root and the
// sqlite alternative under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func FS() fs.FS {
	return migrationsFS
}
