package factory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/model"
)

type nopFlows struct{ model.FlowStore }

func (nopFlows) Close() error { return nil }

type nopTalkers struct{ model.TalkerStore }

func (nopTalkers) Close() error { return nil }

func TestOpen(t *testing.T) {
	attempts := 0
	RegisterFlowStore("test-flaky", func(ctx context.Context, cfg *config.Config) (model.FlowStore, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return nopFlows{}, nil
	})
	RegisterTalkerStore("test-ok", func(ctx context.Context, cfg *config.Config) (model.TalkerStore, error) {
		return nopTalkers{}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.FlowBackend = "test-flaky"
	cfg.Storage.TalkerBackend = "test-ok"

	stores, err := Open(context.Background(), cfg, logging.Nop(), 10*time.Second)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer stores.Close()
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestOpen_Unknown(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.FlowBackend = "nope"
	if _, err := Open(context.Background(), cfg, logging.Nop(), time.Second); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestRegister_Duplicate(t *testing.T) {
	RegisterTalkerStore("test-dup", func(ctx context.Context, cfg *config.Config) (model.TalkerStore, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	RegisterTalkerStore("test-dup", func(ctx context.Context, cfg *config.Config) (model.TalkerStore, error) { return nil, nil })
}
