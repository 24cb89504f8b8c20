package main

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/tendermint/tendermint/libs/log"
)

// Config is the daemon configuration, read from the environment.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8000"`

	Network    string `env:"STELLAR_NETWORK" envDefault:"TESTNET"`
	HorizonURL string `env:"HORIZON_URL"`

	// The challenge server seed is given either in plain text or sealed
	// with crypto.Seal. Without any an ephemeral key is generated.
	ChallengeSecret       string `env:"STELLAR_CHALLENGE_SECRET"`
	ChallengeSecretSealed string `env:"STELLAR_CHALLENGE_SECRET_SEALED"`
	ChallengePassphrase   string `env:"STELLAR_CHALLENGE_PASSPHRASE"`
	SealServerSecret      string `env:"SEAL_SERVER_SECRET"`

	ChallengeDomain string        `env:"CHALLENGE_DOMAIN" envDefault:"torasuri"`
	ChallengeTTL    time.Duration `env:"CHALLENGE_TTL" envDefault:"5m"`
	ChallengeRate   float64       `env:"CHALLENGE_RATE" envDefault:"0.2"`
	ChallengeBurst  int           `env:"CHALLENGE_BURST" envDefault:"3"`

	SpendExpiryMinutes int           `env:"SPEND_EXPIRY_MINUTES" envDefault:"15"`
	SpendPageSize      int           `env:"SPEND_LIST_PAGE_SIZE" envDefault:"10"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`
	SubmitTimeout      time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"30s"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	DataDir      string `env:"DATA_DIR" envDefault:"data"`
	RedisAddr    string `env:"REDIS_ADDR"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

const (
	backendMemory  = "memory"
	backendLevelDB = "goleveldb"
	backendSQLite  = "sqlite"
)

// LoadConfig reads and validates the configuration.
func LoadConfig() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, errors.Wrap(errors.ErrInput, err.Error())
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate returns all configuration problems at once.
func (c *Config) Validate() error {
	var errs error
	if c.HTTPAddr == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "HTTP_ADDR"))
	}
	if _, err := ledger.NetworkByName(c.Network); err != nil {
		errs = errors.Append(errs, errors.Wrap(err, "STELLAR_NETWORK"))
	}
	if c.ChallengeSecret != "" && c.ChallengeSecretSealed != "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrInput, "challenge secret given both plain and sealed"))
	}
	if c.ChallengeSecretSealed != "" && c.ChallengePassphrase == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "STELLAR_CHALLENGE_PASSPHRASE"))
	}
	if c.ChallengeDomain == "" {
		errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "CHALLENGE_DOMAIN"))
	}
	if c.ChallengeTTL <= 0 {
		errs = errors.Append(errs, errors.Wrap(errors.ErrInput, "CHALLENGE_TTL must be positive"))
	}
	if c.ChallengeRate < 0 || c.ChallengeBurst < 0 {
		errs = errors.Append(errs, errors.Wrap(errors.ErrInput, "challenge rate must not be negative"))
	}
	if c.SpendExpiryMinutes <= 0 {
		errs = errors.Append(errs, errors.Wrap(errors.ErrInput, "SPEND_EXPIRY_MINUTES must be positive"))
	}
	if c.SpendPageSize <= 0 {
		errs = errors.Append(errs, errors.Wrap(errors.ErrInput, "SPEND_LIST_PAGE_SIZE must be positive"))
	}
	if c.SweepInterval <= 0 || c.SubmitTimeout <= 0 {
		errs = errors.Append(errs, errors.Wrap(errors.ErrInput, "intervals must be positive"))
	}
	switch c.StoreBackend {
	case backendMemory:
	case backendLevelDB, backendSQLite:
		if c.DataDir == "" {
			errs = errors.Append(errs, errors.Wrap(errors.ErrEmpty, "DATA_DIR"))
		}
	default:
		errs = errors.Append(errs, errors.Wrapf(errors.ErrInput, "STORE_BACKEND %q", c.StoreBackend))
	}
	if _, err := log.AllowLevel(c.LogLevel); err != nil {
		errs = errors.Append(errs, errors.Wrapf(errors.ErrInput, "LOG_LEVEL %q", c.LogLevel))
	}
	return errs
}

// StellarNetwork returns the network selected by the configuration. An
// unknown name is refused by Validate.
func (c *Config) StellarNetwork() ledger.Network {
	n, _ := ledger.NetworkByName(c.Network)
	return n
}

// Horizon returns the Horizon endpoint, defaulting to the public instance of
// the selected network.
func (c *Config) Horizon() string {
	if c.HorizonURL != "" {
		return c.HorizonURL
	}
	return ledger.HorizonURL(c.StellarNetwork())
}

// SpendExpiry returns the validity window of a new spend.
func (c *Config) SpendExpiry() time.Duration {
	return time.Duration(c.SpendExpiryMinutes) * time.Minute
}
