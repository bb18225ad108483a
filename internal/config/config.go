package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Networks  []NetworkConfig `mapstructure:"networks"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Points    PointsConfig    `mapstructure:"points"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			d.Host, d.Port, d.User, d.Password, d.DBName)
	case "sqlite":
		return d.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.DBName)
	}
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	ReadTimeout    int      `mapstructure:"read_timeout"`
	WriteTimeout   int      `mapstructure:"write_timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type NetworkConfig struct {
	Name               string   `mapstructure:"name"`
	RPCURL             string   `mapstructure:"rpc_url"`
	FactoryAddress     string   `mapstructure:"factory_address"`
	PoolAddresses      []string `mapstructure:"pool_addresses"`
	StartBlock         int64    `mapstructure:"start_block"`
	ConfirmationBlocks int      `mapstructure:"confirmation_blocks"`
	BatchSize          int      `mapstructure:"batch_size"`
	PollCron           string   `mapstructure:"poll_cron"`
	Enabled            bool     `mapstructure:"enabled"`
}

type IngestionConfig struct {
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	Parallelism   int           `mapstructure:"parallelism"`
	ReprocessCron string        `mapstructure:"reprocess_cron"`
	ReprocessSize int           `mapstructure:"reprocess_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

// Tier is one step of a multiplier step function: inputs >= Threshold get Multiplier.
type Tier struct {
	Threshold  int64   `mapstructure:"threshold"`
	Multiplier float64 `mapstructure:"multiplier"`
}

type NFTCollection struct {
	Address    string  `mapstructure:"address"`
	Name       string  `mapstructure:"name"`
	Multiplier float64 `mapstructure:"multiplier"`
}

type PointsConfig struct {
	PoolCreationPoints int64           `mapstructure:"pool_creation_points"`
	CommitRate         int64           `mapstructure:"commit_rate"`
	CommitReceivedRate int64           `mapstructure:"commit_received_rate"`
	ExecutingRate      int64           `mapstructure:"executing_rate"`
	ReferralRate       int64           `mapstructure:"referral_rate"`
	CheckinPoints      int64           `mapstructure:"checkin_points"`
	OnboardingPoints   int64           `mapstructure:"onboarding_points"`
	CheckinInterval    time.Duration   `mapstructure:"checkin_interval"`
	USDCDecimals       int32           `mapstructure:"usdc_decimals"`
	LevelTiers         []Tier          `mapstructure:"level_tiers"`
	LeaderboardTiers   []Tier          `mapstructure:"leaderboard_tiers"`
	StreakTiers        []Tier          `mapstructure:"streak_tiers"`
	NFTCollections     []NFTCollection `mapstructure:"nft_collections"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	Stream       string `mapstructure:"stream"`
	StreamMaxLen int64  `mapstructure:"stream_max_len"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/points.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("ingestion.batch_timeout", "60s")
	v.SetDefault("ingestion.parallelism", 8)
	v.SetDefault("ingestion.reprocess_cron", "0 */5 * * * *")
	v.SetDefault("ingestion.reprocess_size", 200)
	v.SetDefault("ingestion.max_retries", 5)

	v.SetDefault("points.pool_creation_points", 50)
	v.SetDefault("points.commit_rate", 15)
	v.SetDefault("points.commit_received_rate", 25)
	v.SetDefault("points.executing_rate", 30)
	v.SetDefault("points.referral_rate", 10)
	v.SetDefault("points.checkin_points", 100)
	v.SetDefault("points.onboarding_points", 100)
	v.SetDefault("points.checkin_interval", "24h")
	v.SetDefault("points.usdc_decimals", 6)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.stream", "pool-points:events")
	v.SetDefault("redis.stream_max_len", 10000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Points.applyDefaultTiers()
	if err := config.Points.Validate(); err != nil {
		return nil, fmt.Errorf("invalid points config: %w", err)
	}
	return &config, nil
}

// Load reads the YAML file at configPath. An empty path yields the defaults.
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// Watch re-reads configPath on every change and hands the new config to onChange.
// Decode failures are passed to onError and the previous config stays in effect.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func DefaultLevelTiers() []Tier {
	return []Tier{
		{Threshold: 0, Multiplier: 1.0},
		{Threshold: 1000, Multiplier: 1.1},
		{Threshold: 10000, Multiplier: 1.2},
		{Threshold: 50000, Multiplier: 1.3},
		{Threshold: 100000, Multiplier: 1.4},
	}
}

func DefaultLeaderboardTiers() []Tier {
	return []Tier{
		{Threshold: 0, Multiplier: 1.0},
		{Threshold: 5000, Multiplier: 1.1},
		{Threshold: 20000, Multiplier: 1.25},
		{Threshold: 50000, Multiplier: 1.5},
	}
}

func DefaultStreakTiers() []Tier {
	return []Tier{
		{Threshold: 0, Multiplier: 1.0},
		{Threshold: 3, Multiplier: 1.1},
		{Threshold: 7, Multiplier: 1.25},
		{Threshold: 14, Multiplier: 1.5},
		{Threshold: 31, Multiplier: 2.0},
	}
}

func (p *PointsConfig) applyDefaultTiers() {
	if len(p.LevelTiers) == 0 {
		p.LevelTiers = DefaultLevelTiers()
	}
	if len(p.LeaderboardTiers) == 0 {
		p.LeaderboardTiers = DefaultLeaderboardTiers()
	}
	if len(p.StreakTiers) == 0 {
		p.StreakTiers = DefaultStreakTiers()
	}
}

// Validate rejects multiplier tables where a higher threshold pays less than a lower one
// or less than 1, and NFT multipliers below 1.
func (p *PointsConfig) Validate() error {
	tables := []struct {
		name  string
		tiers []Tier
	}{
		{"level_tiers", p.LevelTiers},
		{"leaderboard_tiers", p.LeaderboardTiers},
		{"streak_tiers", p.StreakTiers},
	}
	for _, table := range tables {
		if err := validateTiers(table.tiers); err != nil {
			return fmt.Errorf("%s: %w", table.name, err)
		}
	}
	for _, c := range p.NFTCollections {
		if c.Multiplier < 1 {
			return fmt.Errorf("nft collection %s: multiplier %v is below 1", c.Address, c.Multiplier)
		}
	}
	return nil
}

func validateTiers(tiers []Tier) error {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Threshold < sorted[j].Threshold
	})

	prev := 1.0
	for _, tier := range sorted {
		if tier.Multiplier < prev {
			return fmt.Errorf("multiplier %v at threshold %d is below %v", tier.Multiplier, tier.Threshold, prev)
		}
		prev = tier.Multiplier
	}
	return nil
}

func (c *Config) GetNetworkConfig(name string) (*NetworkConfig, error) {
	for i := range c.Networks {
		if c.Networks[i].Name == name {
			return &c.Networks[i], nil
		}
	}
	return nil, fmt.Errorf("network config not found: %s", name)
}

func (c *Config) GetEnabledNetworks() []NetworkConfig {
	var enabled []NetworkConfig
	for _, network := range c.Networks {
		if network.Enabled {
			enabled = append(enabled, network)
		}
	}
	return enabled
}
