package redisstore

import (
	"context"

	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/factory"
	"github.com/tymiles003/FlowTrack/internal/model"
)

func init() {
	factory.RegisterTalkerStore("redis", func(ctx context.Context, cfg *config.Config) (model.TalkerStore, error) {
		return New(ctx, cfg.Storage.Redis)
	})
}
