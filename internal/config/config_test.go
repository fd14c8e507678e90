package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/taskmarket/internal/bidding"
	"github.com/sudo-init-do/taskmarket/internal/escrow"
	"github.com/sudo-init-do/taskmarket/internal/matching"
)

func TestDefaultsRoundTrip(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, escrow.DefaultLimits(), p.EscrowLimits())
	assert.Equal(t, bidding.DefaultLimits(), p.BiddingLimits())
	assert.Equal(t, matching.DefaultParams(), p.MarketParams())
}

func TestLoadParamsOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
escrow:
  min_amount: 500
market:
  fee_rate_bps: 50
  max_batch_matches: 5
`), 0o600))

	p, err := LoadParams(path)
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.EscrowLimits().MinAmount)
	assert.Equal(t, time.Minute, p.EscrowLimits().MinDuration)
	assert.Equal(t, int64(50), p.MarketParams().FeeRateBps)
	assert.Equal(t, 5, p.MarketParams().MaxBatchMatches)
	assert.Equal(t, int64(100), p.MarketParams().MinOrder)
}

func TestLoadParamsRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("market:\n  fee_rate_bps: 20000\n"), 0o600))
	_, err := LoadParams(bad)
	assert.ErrorContains(t, err, "fee_rate_bps")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("market: [\n"), 0o600))
	_, err = LoadParams(broken)
	assert.ErrorContains(t, err, "params.yaml")

	_, err = LoadParams(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "pebble")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PORT", "")
	t.Setenv("PARAMS_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPebble, cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "taskmarket.events", cfg.KafkaTopic)
	assert.Equal(t, DefaultParams(), cfg.Params)

	t.Setenv("STORE_DRIVER", "redis")
	_, err = Load()
	assert.ErrorContains(t, err, "STORE_DRIVER")

	t.Setenv("STORE_DRIVER", "")
	t.Setenv("JWT_SECRET", "")
	_, err = Load()
	assert.ErrorIs(t, err, ErrMissingSecret)
}
