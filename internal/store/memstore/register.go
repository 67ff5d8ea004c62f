package memstore

import (
	"context"

	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/factory"
	"github.com/tymiles003/FlowTrack/internal/model"
)

func init() {
	factory.RegisterFlowStore("memory", func(ctx context.Context, cfg *config.Config) (model.FlowStore, error) {
		return NewFlowStore(), nil
	})
	factory.RegisterTalkerStore("memory", func(ctx context.Context, cfg *config.Config) (model.TalkerStore, error) {
		return NewTalkerStore(), nil
	})
}
