// Package redis stores the billing collections in Redis, one JSON key per
// collection plus a version counter. Commit uses WATCH/MULTI so a concurrent
// writer aborts the transaction instead of being overwritten.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/warp/station-ledger/billing"
)

// Options configures the connection.
type Options struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
	KeyPrefix   string // defaults to "ledger:"
}

type Store struct {
	client *goredis.Client
	prefix string
}

var _ billing.VersionedStore = (*Store)(nil)

// New connects and pings the server.
func New(ctx context.Context, opts Options) (*Store, error) {
	const op = "redis.New"
	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return NewWithClient(client, opts.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "ledger:"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(name string) string { return s.prefix + name }

func (s *Store) versionKey() string { return s.prefix + "version" }

// =============================================================================
// billing.Store
// =============================================================================

func (s *Store) LoadStations(ctx context.Context) ([]billing.Station, error) {
	body, err := s.get(ctx, s.client, "stations")
	if err != nil {
		return nil, err
	}
	return billing.DecodeStations(body)
}

func (s *Store) LoadSettlements(ctx context.Context) ([]billing.Settlement, error) {
	body, err := s.get(ctx, s.client, "settlements")
	if err != nil {
		return nil, err
	}
	return billing.DecodeSettlements(body)
}

func (s *Store) LoadPriceSchedule(ctx context.Context) ([]billing.PriceEntry, error) {
	body, err := s.get(ctx, s.client, "prices")
	if err != nil {
		return nil, err
	}
	entries, err := billing.DecodePrices(body)
	if err != nil {
		return nil, err
	}
	return billing.NewPriceSchedule(entries).Entries(), nil
}

func (s *Store) SaveStations(ctx context.Context, stations []billing.Station) error {
	body, err := billing.EncodeStations(stations)
	if err != nil {
		return err
	}
	return s.put(ctx, map[string][]byte{"stations": body})
}

func (s *Store) SaveSettlements(ctx context.Context, settlements []billing.Settlement) error {
	body, err := billing.EncodeSettlements(settlements)
	if err != nil {
		return err
	}
	return s.put(ctx, map[string][]byte{"settlements": body})
}

func (s *Store) SavePriceSchedule(ctx context.Context, entries []billing.PriceEntry) error {
	body, err := billing.EncodePrices(entries)
	if err != nil {
		return err
	}
	return s.put(ctx, map[string][]byte{"prices": body})
}

func (s *Store) put(ctx context.Context, bodies map[string][]byte) error {
	const op = "redis.put"
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for name, body := range bodies {
			pipe.Set(ctx, s.key(name), body, 0)
		}
		pipe.Incr(ctx, s.versionKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, c goredis.Cmdable, name string) ([]byte, error) {
	const op = "redis.get"
	b, err := c.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, name, err)
	}
	return b, nil
}

func (s *Store) version(ctx context.Context, c goredis.Cmdable) (int64, error) {
	v, err := c.Get(ctx, s.versionKey()).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return v, err
}

// =============================================================================
// billing.VersionedStore
// =============================================================================

func (s *Store) Snapshot(ctx context.Context) (billing.Snapshot, error) {
	var snap billing.Snapshot
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		var err error
		if snap.Version, err = s.version(ctx, tx); err != nil {
			return err
		}
		bodies := make(map[string][]byte, 3)
		for _, name := range []string{"stations", "settlements", "prices"} {
			if bodies[name], err = s.get(ctx, tx, name); err != nil {
				return err
			}
		}
		if snap.Stations, err = billing.DecodeStations(bodies["stations"]); err != nil {
			return err
		}
		if snap.Settlements, err = billing.DecodeSettlements(bodies["settlements"]); err != nil {
			return err
		}
		prices, err := billing.DecodePrices(bodies["prices"])
		if err != nil {
			return err
		}
		snap.Prices = billing.NewPriceSchedule(prices).Entries()
		return nil
	}, s.versionKey())
	if err != nil {
		return billing.Snapshot{}, fmt.Errorf("redis.Snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) Commit(ctx context.Context, snap billing.Snapshot) error {
	stations, err := billing.EncodeStations(snap.Stations)
	if err != nil {
		return err
	}
	settlements, err := billing.EncodeSettlements(snap.Settlements)
	if err != nil {
		return err
	}
	prices, err := billing.EncodePrices(snap.Prices)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := s.version(ctx, tx)
		if err != nil {
			return err
		}
		if current != snap.Version {
			return billing.ErrConcurrentModification
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.key("stations"), stations, 0)
			pipe.Set(ctx, s.key("settlements"), settlements, 0)
			pipe.Set(ctx, s.key("prices"), prices, 0)
			pipe.Incr(ctx, s.versionKey())
			return nil
		})
		return err
	}, s.versionKey())

	switch {
	case errors.Is(err, goredis.TxFailedErr):
		return billing.ErrConcurrentModification
	case err != nil && !errors.Is(err, billing.ErrConcurrentModification):
		return fmt.Errorf("redis.Commit: %w", err)
	}
	return err
}
