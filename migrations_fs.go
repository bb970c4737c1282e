package outbound

import (
	"io/fs"

	"github.com/goliatone/go-outbound/migrations"
)

// GetMigrationsFS returns the embedded outbound schema tree, rooted so that
// data/sql/migrations holds postgres files and data/sql/migrations/sqlite the
// sqlite alternatives.
func GetMigrationsFS() fs.FS {
	return migrations.FS()
}
