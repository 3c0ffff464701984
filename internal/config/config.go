// Package config loads the escrowd YAML configuration and fills in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AgentEscrow-Chain/pkg/logger"
)

// Config is the full daemon configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    logger.Config    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Directory  DirectoryConfig  `yaml:"directory"`
	Payments   PaymentsConfig   `yaml:"payments"`
	Escrow     EscrowConfig     `yaml:"escrow"`
	Validation ValidationConfig `yaml:"validation"`
	Alerting   AlertingConfig   `yaml:"alerting"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	MetricsAddress string        `yaml:"metrics_address"`
	AuthMode       string        `yaml:"auth_mode"`
	MaxClockSkew   time.Duration `yaml:"max_clock_skew"`
}

// StorageConfig selects the entity store backend.
type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LedgerConfig selects the ledger adapter.
type LedgerConfig struct {
	Driver         string            `yaml:"driver"`
	RPCURL         string            `yaml:"rpc_url"`
	ChainID        int64             `yaml:"chain_id"`
	CustodyKeyHex  string            `yaml:"custody_key_hex"`
	CustodyKeyEnv  string            `yaml:"custody_key_env"`
	CustodyAccount string            `yaml:"custody_account"`
	Symbol         string            `yaml:"symbol"`
	GasLimit       uint64            `yaml:"gas_limit"`
	Balances       map[string]uint64 `yaml:"balances"`
	PollInterval   time.Duration     `yaml:"poll_interval"`
	StartBlock     uint64            `yaml:"start_block"`
}

// DirectoryConfig selects the agent directory lookup.
type DirectoryConfig struct {
	Driver    string        `yaml:"driver"`
	SeedFile  string        `yaml:"seed_file"`
	Redis     RedisConfig   `yaml:"redis"`
	Postgres  string        `yaml:"postgres_dsn"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// RedisConfig is shared by every Redis-backed component.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PaymentsConfig controls inbound payment delivery.
type PaymentsConfig struct {
	Queue       string         `yaml:"queue"`
	Workers     int            `yaml:"workers"`
	Idempotency string         `yaml:"idempotency"`
	Redis       RedisQueue     `yaml:"redis"`
	RabbitMQ    RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisQueue describes the Redis list used as payment queue.
type RedisQueue struct {
	RedisConfig `yaml:",inline"`
	Queue       string        `yaml:"queue"`
	BlockWait   time.Duration `yaml:"block_wait"`
}

// RabbitMQConfig describes the RabbitMQ payment queue.
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Queue    string `yaml:"queue"`
	Prefetch int    `yaml:"prefetch"`
	Durable  bool   `yaml:"durable"`
}

// AlertingConfig selects where operator alerts go. Alerts are always logged.
type AlertingConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// EscrowConfig seeds the escrow singleton on first boot.
type EscrowConfig struct {
	Owner              string        `yaml:"owner"`
	DirectoryRef       string        `yaml:"directory_ref"`
	OracleRef          string        `yaml:"oracle_ref"`
	PlatformFee        uint64        `yaml:"platform_fee_bps"`
	MinJobAmount       uint64        `yaml:"min_job_amount"`
	DefaultDeadline    time.Duration `yaml:"default_deadline"`
	DisputeWindow      time.Duration `yaml:"dispute_window"`
	AcceptanceTimeout  time.Duration `yaml:"acceptance_timeout"`
	MinArbitratorStake uint64        `yaml:"min_arbitrator_stake"`
}

// ValidationConfig seeds the validation singleton on first boot.
type ValidationConfig struct {
	Owner                  string        `yaml:"owner"`
	DirectoryRef           string        `yaml:"directory_ref"`
	MinStake               uint64        `yaml:"min_stake"`
	ChallengeStake         uint64        `yaml:"challenge_stake"`
	UnstakeDelay           time.Duration `yaml:"unstake_delay"`
	ChallengeWindow        time.Duration `yaml:"challenge_window"`
	FundingPeriod          time.Duration `yaml:"funding_period"`
	SlashPercent           uint64        `yaml:"slash_percent_bps"`
	SlashRecipient         string        `yaml:"slash_recipient"`
	DisputePeriod          time.Duration `yaml:"dispute_period"`
	FundedChallengeTimeout time.Duration `yaml:"funded_challenge_timeout"`
	ValidationFee          uint64        `yaml:"validation_fee"`
	Symbol                 string        `yaml:"symbol"`
}

// Load parses the YAML file at path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is empty")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(content, filepath.Dir(path))
}

// Parse decodes raw YAML. Relative file references resolve against baseDir.
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults(baseDir)
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.AuthMode == "" {
		c.Server.AuthMode = "signature"
	}
	if c.Server.MaxClockSkew <= 0 {
		c.Server.MaxClockSkew = 5 * time.Minute
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Ledger.Symbol == "" {
		c.Ledger.Symbol = "ETH"
	}
	if c.Ledger.CustodyAccount == "" {
		c.Ledger.CustodyAccount = "escrow.custody"
	}
	if c.Ledger.GasLimit == 0 {
		c.Ledger.GasLimit = 21_000 + 16*64
	}
	if c.Directory.Driver == "" {
		c.Directory.Driver = "static"
	}
	if c.Directory.SeedFile != "" && !filepath.IsAbs(c.Directory.SeedFile) {
		c.Directory.SeedFile = filepath.Join(baseDir, c.Directory.SeedFile)
	}
	if c.Directory.KeyPrefix == "" {
		c.Directory.KeyPrefix = "agent:"
	}
	if c.Payments.Queue == "" {
		c.Payments.Queue = "memory"
	}
	if c.Payments.Workers <= 0 {
		c.Payments.Workers = 1
	}
	if c.Payments.Idempotency == "" {
		c.Payments.Idempotency = "memory"
	}
	if c.Escrow.PlatformFee == 0 {
		c.Escrow.PlatformFee = 100
	}
	if c.Escrow.MinJobAmount == 0 {
		c.Escrow.MinJobAmount = 1
	}
	if c.Escrow.DefaultDeadline <= 0 {
		c.Escrow.DefaultDeadline = 7 * 24 * time.Hour
	}
	if c.Escrow.DisputeWindow <= 0 {
		c.Escrow.DisputeWindow = 3 * 24 * time.Hour
	}
	if c.Escrow.AcceptanceTimeout <= 0 {
		c.Escrow.AcceptanceTimeout = 2 * 24 * time.Hour
	}
	if c.Validation.ChallengeWindow <= 0 {
		c.Validation.ChallengeWindow = 7 * 24 * time.Hour
	}
	if c.Validation.FundingPeriod <= 0 {
		c.Validation.FundingPeriod = 24 * time.Hour
	}
	if c.Validation.DisputePeriod <= 0 {
		c.Validation.DisputePeriod = 3 * 24 * time.Hour
	}
	if c.Validation.FundedChallengeTimeout <= 0 {
		c.Validation.FundedChallengeTimeout = 30 * 24 * time.Hour
	}
	if c.Validation.UnstakeDelay <= 0 {
		c.Validation.UnstakeDelay = 7 * 24 * time.Hour
	}
	if c.Validation.SlashPercent == 0 {
		c.Validation.SlashPercent = 1000
	}
	if c.Validation.SlashRecipient == "" {
		c.Validation.SlashRecipient = "burn"
	}
	if c.Ledger.PollInterval <= 0 {
		c.Ledger.PollInterval = 5 * time.Second
	}
	if c.Alerting.Timeout <= 0 {
		c.Alerting.Timeout = 5 * time.Second
	}
	if c.Validation.Symbol == "" {
		c.Validation.Symbol = c.Ledger.Symbol
	}
}
