// Package sqlindexstore implements metricsindex.Indexer using an SQL
// database.
package sqlindexstore

import (
	"context"

	"github.com/jackc/pgx/v4"

	"go.argus-mon.org/infra/alerting/go/metricsindex"
	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/skerr"
	"go.argus-mon.org/infra/go/sqlpool"
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	resolveString statement = iota
	insertString
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	resolveString: `
		SELECT
			id
		FROM
			StringIndex
		WHERE
			use_case=$1 AND org_id=$2 AND string=$3
		`,
	insertString: `
		INSERT INTO
			StringIndex (use_case, org_id, string)
		VALUES
			($1, $2, $3)
		ON CONFLICT (use_case, org_id, string) DO UPDATE SET string=EXCLUDED.string
		RETURNING id
		`,
}

// IndexStore implements metricsindex.Indexer using an SQL database.
type IndexStore struct {
	db sqlpool.Pool
}

// New returns a new *IndexStore.
func New(db sqlpool.Pool) *IndexStore {
	return &IndexStore{db: db}
}

// Resolve implements metricsindex.Indexer.
func (s *IndexStore) Resolve(ctx context.Context, useCase types.UseCase, orgID int64, str string) (int64, error) {
	var id int64
	if err := s.db.QueryRow(ctx, statements[resolveString], string(useCase), orgID, str).Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return 0, skerr.Wrapf(metricsindex.ErrNotResolved, "%q in org %d", str, orgID)
		}
		return 0, skerr.Wrapf(err, "Failed to resolve string.")
	}
	return id, nil
}

// ResolveTagKey implements metricsindex.Indexer.
func (s *IndexStore) ResolveTagKey(ctx context.Context, useCase types.UseCase, orgID int64, str string) (string, error) {
	id, err := s.Resolve(ctx, useCase, orgID, str)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	return metricsindex.TagColumn(id), nil
}

// Record implements metricsindex.Indexer.
func (s *IndexStore) Record(ctx context.Context, useCase types.UseCase, orgID int64, str string) (int64, error) {
	var id int64
	if err := s.db.QueryRow(ctx, statements[insertString], string(useCase), orgID, str).Scan(&id); err != nil {
		return 0, skerr.Wrapf(err, "Failed to record string.")
	}
	return id, nil
}

var _ metricsindex.Indexer = (*IndexStore)(nil)
