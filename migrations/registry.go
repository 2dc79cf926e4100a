package migrations

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	outreach "github.com/goliatone/go-outreach"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	SchemaDir = "data/sql/migrations"
)

// Source is the migration directory of one dialect.
type Source struct {
	Dialect string
	Dir     string
	FS      fs.FS
}

// DialectForDriver maps a database/sql driver name onto a migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "postgres", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

func dialectDir(dialect string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(dialect)) {
	case DialectPostgres:
		return SchemaDir, nil
	case DialectSQLite:
		return path.Join(SchemaDir, "sqlite"), nil
	default:
		return "", fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
}

// Lookup resolves the migrations of dialect inside root. A nil root reads the
// embedded outreach schema.
func Lookup(root fs.FS, dialect string) (Source, error) {
	if root == nil {
		root = outreach.SchemaFS()
	}
	dir, err := dialectDir(dialect)
	if err != nil {
		return Source{}, err
	}
	sub, err := fs.Sub(root, dir)
	if err != nil {
		return Source{}, fmt.Errorf("migrations: open %s: %w", dir, err)
	}
	ups, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return Source{}, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(ups) == 0 {
		return Source{}, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(sub, down); err != nil {
			return Source{}, fmt.Errorf("migrations: %s is missing %s", dir, down)
		}
	}
	return Source{Dialect: strings.TrimSpace(strings.ToLower(dialect)), Dir: dir, FS: sub}, nil
}

// All returns the embedded schema for every supported dialect.
func All() ([]Source, error) {
	out := make([]Source, 0, 2)
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		source, err := Lookup(nil, dialect)
		if err != nil {
			return nil, err
		}
		out = append(out, source)
	}
	return out, nil
}

// Register hands the embedded migrations for dialect to register, typically
// a persistence client's RegisterSQLMigrations.
func Register(dialect string, register func(fs.FS)) (Source, error) {
	if register == nil {
		return Source{}, fmt.Errorf("migrations: register function is required")
	}
	source, err := Lookup(nil, dialect)
	if err != nil {
		return Source{}, err
	}
	register(source.FS)
	return source, nil
}
