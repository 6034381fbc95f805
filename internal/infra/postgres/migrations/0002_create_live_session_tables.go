package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 0002_create_live_session_tables.sql
var createLiveSessionTablesSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createLiveSessionTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS responses;
				DROP TABLE IF EXISTS participants;
				DROP TABLE IF EXISTS sessions;
			`)
			return err
		},
	)
}
