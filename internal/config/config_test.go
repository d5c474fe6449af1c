package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/market-sim/internal/config"
	"github.com/talgya/market-sim/internal/money"
)

func TestDefaultLoads(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, 1.0, cfg.Game.Speed.Get())
	assert.Equal(t, money.FromCredits(100_000), cfg.Init.Money.Rich.Get())
	assert.Equal(t, money.FromCredits(1_000), cfg.Init.Money.Poor.Get())
	assert.Equal(t, money.FromCredits(10_000_000), cfg.Init.Money.Government.Get())
	assert.InDelta(t, 0.17, cfg.Government.Taxes.PIT.Get(), 1e-9)
	assert.True(t, cfg.Game.Speed.Ranged())
	assert.False(t, cfg.Game.Seed.Ranged())
	require.NotEmpty(t, cfg.Goods)
	assert.Equal(t, "bread", cfg.Goods[0].Name)
}

func mutate(t *testing.T, from, to string) []byte {
	t.Helper()
	raw, err := os.ReadFile("default.yaml")
	require.NoError(t, err)
	doc := string(raw)
	require.Contains(t, doc, from)
	return []byte(strings.Replace(doc, from, to, 1))
}

func TestOutOfRangeListsEveryKey(t *testing.T) {
	raw := mutate(t, "value: 0.19\n", "value: 1.5\n")
	raw = []byte(strings.Replace(string(raw), "value: 0.9\n", "value: -0.1\n", 1))

	_, err := config.Parse(raw)
	require.Error(t, err)

	var ve *config.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Problems, 2)
	assert.Contains(t, ve.Problems[0], "people.discount_rate")
	assert.Contains(t, ve.Problems[1], "government.taxes.cit")
}

func TestOutOfRangeIsNotClamped(t *testing.T) {
	raw := mutate(t, "value: 1.0\n", "value: 11\n")
	_, err := config.Parse(raw)

	var ve *config.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Error(), "game.speed")
}

func TestMissingEntryRejected(t *testing.T) {
	raw := mutate(t, "  monthly_dividend:\n", "  monthly_dividend_typo:\n")
	_, err := config.Parse(raw)

	var ve *config.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.NotEmpty(t, ve.Problems)
}

func TestBadMoneyLiteral(t *testing.T) {
	raw := mutate(t, "value: 40Cr\n", "value: forty\n")
	_, err := config.Parse(raw)
	assert.Error(t, err)
}

func TestRangeNeedsTwoBounds(t *testing.T) {
	raw := mutate(t, "range: [0, 10]\n", "range: [0, 5, 10]\n")
	_, err := config.Parse(raw)

	var ve *config.ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestLoadJSON(t *testing.T) {
	doc := config.Default()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, mustJSON(t, doc), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, doc.Business.Staff.Wage.Get(), cfg.Business.Staff.Wage.Get())
	assert.Equal(t, doc.Goods, cfg.Goods)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWithSpeed(t *testing.T) {
	cfg := config.Default()

	fast, err := cfg.WithSpeed(0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, fast.Game.Speed.Get())
	assert.Equal(t, 1.0, cfg.Game.Speed.Get(), "original snapshot is untouched")

	_, err = cfg.WithSpeed(-1)
	assert.Error(t, err)
}

func TestGoodInputs(t *testing.T) {
	cfg := config.Default()
	i, ok := cfg.GoodIndex("clothes")
	require.True(t, ok)
	assert.Equal(t, []config.Input{{Good: "fuel", Quantity: 2}}, cfg.Goods[i].Inputs)
	_, ok = cfg.GoodIndex("gold")
	assert.False(t, ok)

	cp := cfg.Clone()
	cp.Goods[i].Inputs[0].Quantity = 9
	assert.Equal(t, 2, cfg.Goods[i].Inputs[0].Quantity, "clone does not share inputs")
}

func TestBadGoodInputs(t *testing.T) {
	for name, to := range map[string]string{
		"unknown good": "      - good: gold\n",
		"self":         "      - good: clothes\n",
	} {
		t.Run(name, func(t *testing.T) {
			raw := mutate(t, "      - good: fuel\n", to)
			_, err := config.Parse(raw)
			var ve *config.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Contains(t, ve.Error(), "goods[1].inputs[0]")
		})
	}

	raw := mutate(t, "        quantity: 2\n", "        quantity: 0\n")
	_, err := config.Parse(raw)
	assert.Error(t, err)
}
