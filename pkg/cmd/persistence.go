// Package cmd provides common initialization functions for the binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/eduprism/journey/pkg/persistence"
	"github.com/eduprism/journey/pkg/persistence/file"
	"github.com/eduprism/journey/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the database URL scheme.
// Postgres URLs get the production store; anything else is treated as a
// directory path for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"),
		strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return store
	default:
		return file.NewPersistence(databaseURL)
	}
}
