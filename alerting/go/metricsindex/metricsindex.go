// Package metricsindex is the boundary to the string interning service that
// assigns stable integer ids to metric names and tag values, scoped per
// organization and use case.
package metricsindex

import (
	"context"
	"errors"
	"fmt"

	"go.argus-mon.org/infra/alerting/go/types"
)

// ErrNotResolved is returned when a string has no id assigned yet. Callers
// translating queries must treat this as "no matching data" rather than a
// failure, since indexing can lag ingestion.
var ErrNotResolved = errors.New("string is not indexed")

// Indexer resolves strings to interned integer ids.
type Indexer interface {
	// Resolve returns the id for the given string, or ErrNotResolved.
	Resolve(ctx context.Context, useCase types.UseCase, orgID int64, s string) (int64, error)

	// ResolveTagKey returns the backend column name for the given tag key,
	// or ErrNotResolved.
	ResolveTagKey(ctx context.Context, useCase types.UseCase, orgID int64, s string) (string, error)

	// Record assigns an id to the given string if it does not have one and
	// returns it.
	Record(ctx context.Context, useCase types.UseCase, orgID int64, s string) (int64, error)
}

// TagColumn formats an interned tag key id as the backend column that holds
// values for that tag.
func TagColumn(id int64) string {
	return fmt.Sprintf("tags[%d]", id)
}
