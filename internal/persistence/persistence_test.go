package persistence_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/market-sim/internal/config"
	"github.com/talgya/market-sim/internal/engine"
	"github.com/talgya/market-sim/internal/entropy"
	"github.com/talgya/market-sim/internal/market"
	"github.com/talgya/market-sim/internal/persistence"
)

func newState(t *testing.T) *engine.State {
	t.Helper()
	cfg := config.Default()
	cfg.Init.People.Poor.Value = 40
	cfg.Init.People.Rich.Value = 4
	cfg.Init.Businesses.Value = 3
	s, err := engine.Initialize(cfg)
	require.NoError(t, err)
	return s
}

func advance(s *engine.State, rng *entropy.Source, days int, each func(*engine.State)) *engine.State {
	for i := 0; i < days; i++ {
		s = engine.AdvanceOneDay(s, rng)
		if each != nil {
			each(s)
		}
	}
	return s
}

func openDB(t *testing.T) *persistence.DB {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveDayRequiresRun(t *testing.T) {
	db := openDB(t)
	assert.Error(t, db.SaveDay(newState(t)))
}

func TestRecordDays(t *testing.T) {
	db := openDB(t)
	s := newState(t)

	id, err := db.StartRun(s, "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, db.RunID())

	last := advance(s, entropy.New(5), 12, func(s *engine.State) {
		require.NoError(t, db.SaveDay(s))
	})

	days, err := db.RecentDays(5)
	require.NoError(t, err)
	require.Len(t, days, 5)
	assert.Equal(t, uint64(11), days[0].Day)
	assert.Equal(t, uint64(7), days[4].Day)
	assert.Equal(t, last.Stats.Treasury, days[0].Treasury)
	assert.Equal(t, last.Stats.PeopleMoney, days[0].PeopleMoney)
	assert.Equal(t, last.Stats.Trades, days[0].Trades)

	prices, err := db.PriceHistory(market.Good(0), 3)
	require.NoError(t, err)
	require.Len(t, prices, 3)
	assert.Equal(t, uint64(9), prices[0].Day)
	assert.Equal(t, uint64(11), prices[2].Day)
	want, ok := last.Market.History(0).Latest()
	require.True(t, ok)
	assert.Equal(t, want.Median, prices[2].Median)
	assert.Equal(t, want.Volume, prices[2].Volume)

	biz, err := db.Businesses()
	require.NoError(t, err)
	require.Len(t, biz, len(last.Businesses))
	for i, b := range last.Businesses {
		assert.Equal(t, uint64(b.ID), biz[i].ID)
		assert.Equal(t, b.Name, biz[i].Name)
		assert.Equal(t, last.Ledger.Balance(b.Account()), biz[i].Money)
		assert.Equal(t, b.State.String(), biz[i].State)
	}

	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "liquidate", runs[0].Resolver)
}

func TestEventsAreStoredOnce(t *testing.T) {
	db := openDB(t)
	s := newState(t)
	_, err := db.StartRun(s, "")
	require.NoError(t, err)

	var want int
	advance(s, entropy.New(8), 45, func(s *engine.State) {
		require.NoError(t, db.SaveDay(s))
		for _, e := range s.Events {
			if e.Day == s.Day-1 {
				want++
			}
		}
	})

	events, err := db.RecentEvents(1000)
	require.NoError(t, err)
	assert.Len(t, events, want)
}

func TestStartRunContinuesKnownRun(t *testing.T) {
	db := openDB(t)
	s := newState(t)
	id, err := db.StartRun(s, "")
	require.NoError(t, err)

	again, err := db.StartRun(s, id)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	fresh, err := db.StartRun(s, "no-such-run")
	require.NoError(t, err)
	assert.NotEqual(t, "no-such-run", fresh)

	runs, err := db.Runs()
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSnapshotResumesRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", "state.zst")
	rng := entropy.New(11)
	s := advance(newState(t), rng, 15, nil)

	pos, err := rng.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, persistence.WriteSnapshot(path, "run-1", s, pos))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files left behind")

	hdr, restored, restoredRNG, err := persistence.ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, persistence.SnapshotVersion, hdr.Version)
	assert.Equal(t, "run-1", hdr.RunID)
	assert.Equal(t, s.Day, hdr.Day)

	want, err := json.Marshal(advance(s, rng, 20, nil))
	require.NoError(t, err)
	got, err := json.Marshal(advance(restored, restoredRNG, 20, nil))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestConcurrentSnapshotWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.zst")
	rng := entropy.New(3)
	s := advance(newState(t), rng, 5, nil)
	pos, err := rng.MarshalBinary()
	require.NoError(t, err)

	for round := 0; round < 10; round++ {
		var g errgroup.Group
		for i := 0; i < 4; i++ {
			g.Go(func() error { return persistence.WriteSnapshot(path, "run-1", s, pos) })
		}
		require.NoError(t, g.Wait(), "round %d", round)

		hdr, _, _, err := persistence.ReadSnapshot(path)
		require.NoError(t, err, "round %d", round)
		assert.Equal(t, s.Day, hdr.Day)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zst")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))
	_, _, _, err := persistence.ReadSnapshot(path)
	assert.Error(t, err)

	_, _, _, err = persistence.ReadSnapshot(filepath.Join(t.TempDir(), "missing.zst"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
