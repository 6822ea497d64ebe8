package sql

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

func createJobsTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*jobModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func createBlacklistTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*blacklistModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func createArtifactsTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*artifactModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func createClaimIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_status_node").
		Column("status", "node").
		IfNotExists().
		Exec(ctx)
	return err
}

func createQueueIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_status_priority_created").
		Column("status", "priority", "created_at").
		IfNotExists().
		Exec(ctx)
	return err
}

func createNodeRunningIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_node_status").
		Column("node", "status").
		IfNotExists().
		Exec(ctx)
	return err
}

func initSchema(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	steps := []func(context.Context, bun.IDB) error{
		createJobsTable,
		createBlacklistTable,
		createArtifactsTable,
		createClaimIndex,
		createQueueIndex,
		createNodeRunningIndex,
	}
	for _, step := range steps {
		if err := step(ctx, tx); err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

// InitSchema creates the jobs, blacklisted_gpus and artifacts tables
// plus their indexes inside a single transaction, generalizing
// gqs/sql.InitDB. It is idempotent and never performs a destructive
// migration; schema evolution beyond additive CREATE ... IF NOT EXISTS
// must be handled externally.
func InitSchema(ctx context.Context, db *bun.DB) error {
	return initSchema(ctx, db)
}
