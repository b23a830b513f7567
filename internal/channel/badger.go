package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/notchrisbutler/LEDMatrix-sub000/internal/log"
	"github.com/notchrisbutler/LEDMatrix-sub000/internal/metrics"
)

const badgerWatchInterval = 250 * time.Millisecond

// Badger is the embedded-disk backend. TTLs ride on Badger's native entry
// expiry and Watch polls. Separate processes sharing the directory are
// not supported; this backend is for single-process deployments that
// need durability without a snapshot file.
type Badger struct {
	db     *badger.DB
	logger zerolog.Logger
}

// OpenBadger opens (or creates) the store directory.
func OpenBadger(dir string) (*Badger, error) {
	if dir == "" {
		return nil, fmt.Errorf("badger backend needs channel.badger_dir")
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger channel: %w", err)
	}
	return &Badger{
		db:     db,
		logger: log.WithComponent("channel").With().Str("backend", "badger").Logger(),
	}, nil
}

func (b *Badger) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		metrics.RecordChannelOp("badger", "get", "miss")
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordChannelOp("badger", "get", "failure")
		return nil, false, fmt.Errorf("badger get %s: %w", key, err)
	}
	metrics.RecordChannelOp("badger", "get", "success")
	return out, true, nil
}

func (b *Badger) Set(ctx context.Context, key string, value []byte) error {
	return b.SetTTL(ctx, key, value, 0)
}

func (b *Badger) SetTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		metrics.RecordChannelOp("badger", "set", "failure")
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	metrics.RecordChannelOp("badger", "set", "success")
	return nil
}

func (b *Badger) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		metrics.RecordChannelOp("badger", "delete", "failure")
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	metrics.RecordChannelOp("badger", "delete", "success")
	return nil
}

// Watch polls the key's version and signals on change.
func (b *Badger) Watch(ctx context.Context, key string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		last := b.version(key)
		ticker := time.NewTicker(badgerWatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if v := b.version(key); v != last {
					last = v
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			}
		}
	}()
	return ch
}

// version returns the key's badger version, 0 when absent.
func (b *Badger) version(key string) uint64 {
	var v uint64
	_ = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return nil
		}
		v = item.Version()
		return nil
	})
	return v
}

func (b *Badger) Close() error {
	return b.db.Close()
}
