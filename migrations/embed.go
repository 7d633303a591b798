// Package migrations embeds the SQL schema migrations so binaries can
// migrate without a migrations directory on disk.
package migrations

import (
	"embed"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Source returns a golang-migrate source driver backed by the embedded
// migration files.
func Source() (source.Driver, error) {
	return iofs.New(files, ".")
}
