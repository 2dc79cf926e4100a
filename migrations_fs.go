package outreach

import (
	"embed"
	"io/fs"
)

//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var schemaFS embed.FS

// SchemaFS returns the embedded outreach schema. Postgres migrations live in
// data/sql/migrations and their sqlite counterparts in its sqlite directory.
func SchemaFS() fs.FS {
	return schemaFS
}
