package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/station-ledger/billing"
)

// newTestStore connects to REDIS_ADDR under a unique key prefix.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	prefix := "ledger-test:" + uuid.NewString() + ":"
	s, err := New(ctx, Options{Addr: addr, KeyPrefix: prefix})
	require.NoError(t, err)

	t.Cleanup(func() {
		keys := []string{s.key("stations"), s.key("settlements"), s.key("prices"), s.versionKey()}
		s.client.Del(context.Background(), keys...)
		s.Close()
	})
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	stations, err := s.LoadStations(ctx)
	require.NoError(t, err)
	assert.Empty(t, stations)

	require.NoError(t, s.SaveStations(ctx, []billing.Station{{
		ID:           "st-1",
		Name:         "North",
		StartDate:    billing.MustParsePeriod("2024-01"),
		StartBalance: decimal.NewFromInt(1000),
	}}))
	schedule, err := billing.PriceSchedule{}.AddPrice(decimal.NewFromInt(50), billing.MustParsePeriod("2024-01"))
	require.NoError(t, err)
	require.NoError(t, s.SavePriceSchedule(ctx, schedule.Entries()))

	stations, err = s.LoadStations(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "North", stations[0].Name)

	entries, err := s.LoadPriceSchedule(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Price.Equal(decimal.NewFromInt(50)))
}

func TestStore_CommitCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.Snapshot(ctx)
	require.NoError(t, err)
	b, err := s.Snapshot(ctx)
	require.NoError(t, err)

	a.Stations = []billing.Station{{ID: "a", StartDate: billing.MustParsePeriod("2024-01")}}
	require.NoError(t, s.Commit(ctx, a))

	b.Stations = []billing.Station{{ID: "b", StartDate: billing.MustParsePeriod("2024-01")}}
	assert.ErrorIs(t, s.Commit(ctx, b), billing.ErrConcurrentModification)

	stations, err := s.LoadStations(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, billing.StationID("a"), stations[0].ID)
}
