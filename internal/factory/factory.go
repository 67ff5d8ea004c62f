// Package factory opens the configured storage backends by name. Backends
// register themselves from init().
package factory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/model"
)

// FlowStoreFactory opens a flow store from the configuration.
type FlowStoreFactory func(ctx context.Context, cfg *config.Config) (model.FlowStore, error)

// TalkerStoreFactory opens a talker store from the configuration.
type TalkerStoreFactory func(ctx context.Context, cfg *config.Config) (model.TalkerStore, error)

var (
	flowRegistry   = make(map[string]FlowStoreFactory)
	talkerRegistry = make(map[string]TalkerStoreFactory)
)

// RegisterFlowStore registers a flow backend under name.
func RegisterFlowStore(name string, f FlowStoreFactory) {
	if _, exists := flowRegistry[name]; exists {
		panic(fmt.Sprintf("flow backend '%s' already registered", name))
	}
	flowRegistry[name] = f
}

// RegisterTalkerStore registers a talker backend under name.
func RegisterTalkerStore(name string, f TalkerStoreFactory) {
	if _, exists := talkerRegistry[name]; exists {
		panic(fmt.Sprintf("talker backend '%s' already registered", name))
	}
	talkerRegistry[name] = f
}

// FlowBackends lists the registered flow backend names.
func FlowBackends() []string {
	names := make([]string, 0, len(flowRegistry))
	for n := range flowRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TalkerBackends lists the registered talker backend names.
func TalkerBackends() []string {
	names := make([]string, 0, len(talkerRegistry))
	for n := range talkerRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stores is the pair of opened backends.
type Stores struct {
	Flows   model.FlowStore
	Talkers model.TalkerStore
}

// Close closes both stores.
func (s *Stores) Close() error {
	var first error
	if s.Flows != nil {
		first = s.Flows.Close()
	}
	if s.Talkers != nil {
		if err := s.Talkers.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens the flow and talker backends named in cfg.Storage, retrying
// each with exponential backoff for up to maxElapsed.
func Open(ctx context.Context, cfg *config.Config, log *logging.Logger, maxElapsed time.Duration) (*Stores, error) {
	flowFactory, ok := flowRegistry[cfg.Storage.FlowBackend]
	if !ok {
		return nil, fmt.Errorf("unknown flow backend: '%s'", cfg.Storage.FlowBackend)
	}
	talkerFactory, ok := talkerRegistry[cfg.Storage.TalkerBackend]
	if !ok {
		return nil, fmt.Errorf("unknown talker backend: '%s'", cfg.Storage.TalkerBackend)
	}

	stores := &Stores{}
	err := Retry(ctx, log, "flow store "+cfg.Storage.FlowBackend, maxElapsed, func() error {
		fs, err := flowFactory(ctx, cfg)
		stores.Flows = fs
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error opening flow backend '%s': %w", cfg.Storage.FlowBackend, err)
	}

	err = Retry(ctx, log, "talker store "+cfg.Storage.TalkerBackend, maxElapsed, func() error {
		ts, err := talkerFactory(ctx, cfg)
		stores.Talkers = ts
		return err
	})
	if err != nil {
		stores.Flows.Close()
		return nil, fmt.Errorf("error opening talker backend '%s': %w", cfg.Storage.TalkerBackend, err)
	}

	log.Infow("Storage ready", "flows", cfg.Storage.FlowBackend, "talkers", cfg.Storage.TalkerBackend)
	return stores, nil
}

// Retry runs op until it succeeds, ctx ends or maxElapsed passes.
func Retry(ctx context.Context, log *logging.Logger, what string, maxElapsed time.Duration, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		log.Warnw("Connection failed, retrying", "target", what, "error", err, "backoff", next)
	})
}
