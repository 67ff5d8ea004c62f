package clickhouse

import (
	"context"

	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/factory"
	"github.com/tymiles003/FlowTrack/internal/model"
)

func init() {
	factory.RegisterFlowStore("clickhouse", func(ctx context.Context, cfg *config.Config) (model.FlowStore, error) {
		return New(ctx, cfg.Storage.ClickHouse)
	})
}
