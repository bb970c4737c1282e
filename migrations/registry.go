// Package migrations embeds the outbound schema. Postgres files sit at the
// root of data/sql/migrations and the sqlite variants in its sqlite directory.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const rootDir = "data/sql/migrations"

// RegisterFunc receives the migration files of one dialect.
type RegisterFunc func(ctx context.Context, dialect string, fsys fs.FS) error

// Dialects lists every dialect with embedded migrations.
func Dialects() []string {
	return []string{DialectPostgres, DialectSQLite}
}

// DialectFS returns the migration files for dialect and checks that at least
// one *.up.sql file is present.
func DialectFS(dialect string) (fs.FS, error) {
	dir := rootDir
	switch normalizeDialect(dialect) {
	case DialectPostgres:
	case DialectSQLite:
		dir = rootDir + "/" + DialectSQLite
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	sub, err := fs.Sub(FS(), dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	ups, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	return sub, nil
}

// Register hands the files of each requested dialect to registerFn, every
// dialect when none is named. Unknown dialects fail before anything is
// registered.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) error {
	if registerFn == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	if len(dialects) == 0 {
		dialects = Dialects()
	}

	type source struct {
		dialect string
		fsys    fs.FS
	}
	sources := make([]source, 0, len(dialects))
	seen := map[string]struct{}{}
	for _, dialect := range dialects {
		dialect = normalizeDialect(dialect)
		if _, ok := seen[dialect]; ok {
			continue
		}
		seen[dialect] = struct{}{}
		fsys, err := DialectFS(dialect)
		if err != nil {
			return err
		}
		sources = append(sources, source{dialect: dialect, fsys: fsys})
	}

	for _, src := range sources {
		if err := registerFn(ctx, src.dialect, src.fsys); err != nil {
			return fmt.Errorf("migrations: register %s: %w", src.dialect, err)
		}
	}
	return nil
}

func normalizeDialect(dialect string) string {
	return strings.TrimSpace(strings.ToLower(dialect))
}
