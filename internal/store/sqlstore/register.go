package sqlstore

import (
	"context"

	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/factory"
	"github.com/tymiles003/FlowTrack/internal/model"
)

func init() {
	factory.RegisterFlowStore("sqlite", func(ctx context.Context, cfg *config.Config) (model.FlowStore, error) {
		return OpenSQLite(cfg.Storage.SQLitePath)
	})
	factory.RegisterTalkerStore("sqlite", func(ctx context.Context, cfg *config.Config) (model.TalkerStore, error) {
		return OpenSQLite(cfg.Storage.SQLitePath)
	})
	factory.RegisterFlowStore("postgres", func(ctx context.Context, cfg *config.Config) (model.FlowStore, error) {
		return OpenPostgres(ctx, cfg.Storage.PostgresURL)
	})
	factory.RegisterTalkerStore("postgres", func(ctx context.Context, cfg *config.Config) (model.TalkerStore, error) {
		return OpenPostgres(ctx, cfg.Storage.PostgresURL)
	})
}
