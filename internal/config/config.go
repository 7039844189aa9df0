// Package config loads the intentd configuration file.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/blndgs/erc7806/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "INTENTD_CONFIG"

// DefaultStandard is the address the relayed-execution standard is
// registered under when none is configured.
const DefaultStandard = "0x0000000000000000000000000000000000007806"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Chain   ChainConfig   `yaml:"chain"`
	Relayer RelayerConfig `yaml:"relayer"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Replay  ReplayConfig  `yaml:"replay"`
	Queue   QueueConfig   `yaml:"queue"`
	Log     logger.Config `yaml:"log"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

// ChainConfig names the chain intents are signed for. ChainID may be left
// zero when RPCURL is set; it is then read from the node.
type ChainConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	ChainID int64  `yaml:"chain_id"`
}

type RelayerConfig struct {
	Address   string   `yaml:"address"`
	Standards []string `yaml:"standards"`
	Workers   int      `yaml:"workers"`
}

// LedgerConfig seeds the in-process ledger. An account without a balance is
// mirrored from the chain at startup.
type LedgerConfig struct {
	Tokens   []string        `yaml:"tokens"`
	Accounts []AccountConfig `yaml:"accounts"`
}

type AccountConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
	Balance string `yaml:"balance"`
}

type ReplayConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

type RedisConfig struct {
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	Queue     string        `yaml:"queue"`
	BlockWait time.Duration `yaml:"block_wait"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Size     int            `yaml:"size"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// Load parses the YAML file at path and fills in defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(content)
}

// Parse decodes YAML content and fills in defaults.
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv loads the file named by INTENTD_CONFIG, or returns the defaults
// when it is unset.
func FromEnv() (*Config, error) {
	if path := strings.TrimSpace(os.Getenv(EnvVar)); path != "" {
		return Load(path)
	}
	return Parse(nil)
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Chain.ChainID == 0 && c.Chain.RPCURL == "" {
		c.Chain.ChainID = 1
	}
	if len(c.Relayer.Standards) == 0 {
		c.Relayer.Standards = []string{DefaultStandard}
	}
	if c.Relayer.Workers <= 0 {
		c.Relayer.Workers = 4
	}
	if c.Replay.Driver == "" {
		c.Replay.Driver = "memory"
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 256
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks addresses and amounts.
func (c *Config) Validate() error {
	if c.Relayer.Address != "" && !common.IsHexAddress(c.Relayer.Address) {
		return fmt.Errorf("relayer.address %q is not an address", c.Relayer.Address)
	}
	for _, s := range c.Relayer.Standards {
		if !common.IsHexAddress(s) {
			return fmt.Errorf("relayer.standards: %q is not an address", s)
		}
	}
	for _, t := range c.Ledger.Tokens {
		if !common.IsHexAddress(t) {
			return fmt.Errorf("ledger.tokens: %q is not an address", t)
		}
	}
	for i, a := range c.Ledger.Accounts {
		if !common.IsHexAddress(a.Address) {
			return fmt.Errorf("ledger.accounts[%d].address %q is not an address", i, a.Address)
		}
		if a.Token != "" && !common.IsHexAddress(a.Token) {
			return fmt.Errorf("ledger.accounts[%d].token %q is not an address", i, a.Token)
		}
		if a.Balance != "" {
			balance, ok := new(big.Int).SetString(a.Balance, 0)
			if !ok {
				return fmt.Errorf("ledger.accounts[%d].balance %q is not an integer", i, a.Balance)
			}
			if balance.Sign() < 0 {
				return fmt.Errorf("ledger.accounts[%d].balance %q is negative", i, a.Balance)
			}
		}
	}
	if c.Chain.ChainID < 0 {
		return fmt.Errorf("chain.chain_id must be positive, got %d", c.Chain.ChainID)
	}
	return nil
}
