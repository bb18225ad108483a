package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 60*time.Second, cfg.Ingestion.BatchTimeout)
	assert.Equal(t, 8, cfg.Ingestion.Parallelism)
	assert.Equal(t, int64(50), cfg.Points.PoolCreationPoints)
	assert.Equal(t, int64(15), cfg.Points.CommitRate)
	assert.Equal(t, int64(25), cfg.Points.CommitReceivedRate)
	assert.Equal(t, 24*time.Hour, cfg.Points.CheckinInterval)
	assert.Equal(t, int32(6), cfg.Points.USDCDecimals)
	assert.Equal(t, DefaultLevelTiers(), cfg.Points.LevelTiers)
	assert.Equal(t, DefaultStreakTiers(), cfg.Points.StreakTiers)
	assert.Empty(t, cfg.GetEnabledNetworks())
}

const testConfig = `
database:
  driver: postgres
  host: db
  port: 5432
  user: points
  password: secret
  dbname: points
networks:
  - name: base
    rpc_url: https://base.example
    factory_address: "0x00000000000000000000000000000000000000f1"
    confirmation_blocks: 3
    enabled: true
  - name: sepolia
    enabled: false
ingestion:
  batch_timeout: 5s
points:
  commit_rate: 20
  level_tiers:
    - threshold: 0
      multiplier: 1
    - threshold: 500
      multiplier: 1.5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "host=db port=5432 user=points password=secret dbname=points sslmode=disable TimeZone=UTC", cfg.Database.DSN())
	assert.Equal(t, 5*time.Second, cfg.Ingestion.BatchTimeout)
	assert.Equal(t, int64(20), cfg.Points.CommitRate)
	assert.Equal(t, int64(25), cfg.Points.CommitReceivedRate)
	assert.Equal(t, []Tier{{Threshold: 0, Multiplier: 1}, {Threshold: 500, Multiplier: 1.5}}, cfg.Points.LevelTiers)
	assert.Equal(t, DefaultLeaderboardTiers(), cfg.Points.LeaderboardTiers)

	enabled := cfg.GetEnabledNetworks()
	require.Len(t, enabled, 1)
	assert.Equal(t, "base", enabled[0].Name)
	assert.Equal(t, 3, enabled[0].ConfirmationBlocks)

	network, err := cfg.GetNetworkConfig("sepolia")
	require.NoError(t, err)
	assert.False(t, network.Enabled)

	_, err = cfg.GetNetworkConfig("mainnet")
	assert.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PP_SERVER_PORT", "9090")

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadRejectsDecreasingTiers(t *testing.T) {
	body := `
points:
  streak_tiers:
    - threshold: 0
      multiplier: 1
    - threshold: 7
      multiplier: 1.5
    - threshold: 14
      multiplier: 1.2
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "streak_tiers")
}

func TestPointsConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		points  PointsConfig
		wantErr bool
	}{
		{name: "defaults", points: PointsConfig{
			LevelTiers:       DefaultLevelTiers(),
			LeaderboardTiers: DefaultLeaderboardTiers(),
			StreakTiers:      DefaultStreakTiers(),
		}},
		{name: "empty tables", points: PointsConfig{}},
		{name: "unsorted but monotonic", points: PointsConfig{
			LevelTiers: []Tier{{Threshold: 100, Multiplier: 1.5}, {Threshold: 10, Multiplier: 1.2}},
		}},
		{name: "decreasing", wantErr: true, points: PointsConfig{
			LevelTiers: []Tier{{Threshold: 10, Multiplier: 1.5}, {Threshold: 100, Multiplier: 1.2}},
		}},
		{name: "below one", wantErr: true, points: PointsConfig{
			LeaderboardTiers: []Tier{{Threshold: 0, Multiplier: 0.5}},
		}},
		{name: "nft below one", wantErr: true, points: PointsConfig{
			NFTCollections: []NFTCollection{{Address: "0x01", Multiplier: 0.9}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.points.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatchReloads(t *testing.T) {
	path := writeConfig(t, testConfig)

	changes := make(chan *Config, 64)
	require.NoError(t, Watch(path, func(cfg *Config) { changes <- cfg }, nil))

	require.NoError(t, os.WriteFile(path, []byte(testConfig+"\nserver:\n  port: 7070\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			// an editor may deliver the truncate and the write as separate events
			if cfg.Server.Port == 7070 {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}
