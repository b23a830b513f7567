// Package channel is the request channel between the engine and the
// control plane: a small key/value store with TTL that carries on-demand
// directives inbound and published engine state outbound. Backends exist
// for an in-process map (with optional file snapshot), Badger and Redis.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/config"
)

// Keys the engine and the control plane agree on. The names are part of
// the wire contract; the control plane addresses them directly.
const (
	KeyRequest     = "display_on_demand_request"
	KeyState       = "display_on_demand_state"
	KeyConfig      = "display_on_demand_config"
	KeyProcessedID = "display_on_demand_processed_id"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("request channel is closed")

// Channel is the store contract. Values are opaque bytes; the wire types
// in this package define what goes into the well-known keys.
//
// Watch returns a channel that receives a coalesced signal whenever the
// key changes. It is closed when ctx is done. Backends without native
// notification poll; the signal then means "the key may have changed".
type Channel interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Watch(ctx context.Context, key string) <-chan struct{}
	Close() error
}

// Open builds the channel backend selected by cfg.
func Open(cfg config.ChannelConfig) (Channel, error) {
	switch cfg.Backend {
	case "", config.ChannelMemory:
		return NewMemory(cfg.SnapshotPath)
	case config.ChannelBadger:
		return OpenBadger(cfg.BadgerDir)
	case config.ChannelRedis:
		return OpenRedis(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown channel backend %q", cfg.Backend)
	}
}
