// Package document defines the documents press renders and the stores that
// resolve a key to a document.
//
// A Resolver returns (nil, nil) when a key has no document. Any non-nil error
// is a processing failure, never a "not found".
package document

import (
	"context"
	"fmt"

	"github.com/jmgilman/go/errors"
)

// Document is a markdown document owned by a store.
type Document struct {
	Key      string
	Name     string
	Markdown string
}

// Resolver looks up documents by key.
type Resolver interface {
	// Resolve returns the document for key, or nil if there is none.
	Resolve(ctx context.Context, key string) (*Document, error)

	// Close releases the resolver's resources.
	Close() error
}

// Store drivers understood by Open.
const (
	DriverSQLite = "sqlite"
	DriverDir    = "dir"
)

// Open returns the resolver for the given driver. For the sqlite driver dsn
// is the database path; for the dir driver it is a directory of markdown
// files.
func Open(driver, dsn string) (Resolver, error) {
	if dsn == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "document store location is empty")
	}
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStore(dsn)
	case DriverDir:
		return NewDirStore(dsn)
	default:
		return nil, errors.New(errors.CodeInvalidConfig, fmt.Sprintf("unknown document store driver %q", driver))
	}
}
