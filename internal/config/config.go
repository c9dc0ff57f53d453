package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/ledger"
)

const envPrefix = "REENTRANCY"

// Config holds application configuration.
type Config struct {
	Server   ServerConfig
	Vault    VaultConfig
	Scenario ScenarioConfig
	Kafka    KafkaConfig
	Log      LogConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string
}

// VaultConfig selects how the vault orders a withdrawal.
type VaultConfig struct {
	Ordering        string
	ReentrancyGuard bool `mapstructure:"reentrancy_guard"`
}

// ScenarioConfig holds the amounts used to set up and run the demo.
type ScenarioConfig struct {
	UserFunds      string `mapstructure:"user_funds"`
	UserDeposit    string `mapstructure:"user_deposit"`
	AttackerFunds  string `mapstructure:"attacker_funds"`
	Seed           string
	RecursionLimit int `mapstructure:"recursion_limit"`
}

// KafkaConfig enables publishing transfer events when brokers are set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string
	Development bool
}

// Load reads an optional .env file, an optional config file named by
// REENTRANCY_CONFIG, and REENTRANCY_* environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	// default values
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("vault.ordering", ledger.InteractionsFirst.String())
	v.SetDefault("vault.reentrancy_guard", false)
	v.SetDefault("scenario.user_funds", "10")
	v.SetDefault("scenario.user_deposit", "5")
	v.SetDefault("scenario.attacker_funds", "10")
	v.SetDefault("scenario.seed", "1")
	v.SetDefault("scenario.recursion_limit", 20)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "transfer_completed")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	if cfgPath := os.Getenv(envPrefix + "_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// a comma separated env var arrives as a single element
	if len(c.Kafka.Brokers) == 1 && strings.Contains(c.Kafka.Brokers[0], ",") {
		c.Kafka.Brokers = strings.Split(c.Kafka.Brokers[0], ",")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks that every amount parses, the seed is positive and the
// vault ordering is known.
func (c Config) Validate() error {
	if _, err := c.Vault.ParseOrdering(); err != nil {
		return fmt.Errorf("vault.ordering: %w", err)
	}
	amounts := map[string]string{
		"scenario.user_funds":     c.Scenario.UserFunds,
		"scenario.user_deposit":   c.Scenario.UserDeposit,
		"scenario.attacker_funds": c.Scenario.AttackerFunds,
		"scenario.seed":           c.Scenario.Seed,
	}
	for key, raw := range amounts {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d.IsNegative() || !d.IsInteger() {
			return fmt.Errorf("%s: %s is not a whole non-negative amount", key, raw)
		}
		if key == "scenario.seed" && d.IsZero() {
			return fmt.Errorf("%s: must be positive", key)
		}
	}
	if c.Scenario.RecursionLimit < 0 {
		return fmt.Errorf("scenario.recursion_limit: %d is negative", c.Scenario.RecursionLimit)
	}
	return nil
}

// ParseOrdering returns the configured withdrawal ordering.
func (v VaultConfig) ParseOrdering() (ledger.Ordering, error) {
	return ledger.ParseOrdering(v.Ordering)
}

// LedgerOptions translates the vault settings into ledger options.
func (v VaultConfig) LedgerOptions() ([]ledger.Option, error) {
	ordering, err := v.ParseOrdering()
	if err != nil {
		return nil, err
	}
	opts := []ledger.Option{ledger.WithOrdering(ordering)}
	if v.ReentrancyGuard {
		opts = append(opts, ledger.WithReentrancyGuard())
	}
	return opts, nil
}

// Amounts returns the scenario amounts as decimals. Validate must have
// passed.
func (s ScenarioConfig) Amounts() (userFunds, userDeposit, attackerFunds, seed decimal.Decimal) {
	return decimal.RequireFromString(s.UserFunds),
		decimal.RequireFromString(s.UserDeposit),
		decimal.RequireFromString(s.AttackerFunds),
		decimal.RequireFromString(s.Seed)
}
