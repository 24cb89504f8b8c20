package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/iov-one/torasuri/crypto"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/torasuritest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
)

func TestLoadConfigDefaults(t *testing.T) {
	conf, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8000", conf.HTTPAddr)
	assert.Equal(t, ledger.TestNet, conf.StellarNetwork())
	assert.Equal(t, ledger.TestNetHorizonURL, conf.Horizon())
	assert.Equal(t, "torasuri", conf.ChallengeDomain)
	assert.Equal(t, 5*time.Minute, conf.ChallengeTTL)
	assert.Equal(t, 15*time.Minute, conf.SpendExpiry())
	assert.Equal(t, 10, conf.SpendPageSize)
	assert.Equal(t, time.Minute, conf.SweepInterval)
	assert.Equal(t, backendMemory, conf.StoreBackend)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("STELLAR_NETWORK", "public")
	t.Setenv("HORIZON_URL", "http://localhost:8001")
	t.Setenv("SPEND_EXPIRY_MINUTES", "30")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("LOG_LEVEL", "debug")

	conf, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ledger.PublicNet, conf.StellarNetwork())
	assert.Equal(t, "http://localhost:8001", conf.Horizon())
	assert.Equal(t, 30*time.Minute, conf.SpendExpiry())
	assert.Equal(t, 15*time.Second, conf.SweepInterval)
	assert.Equal(t, backendSQLite, conf.StoreBackend)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]struct {
		mutate  func(*Config)
		wantErr *errors.Error
	}{
		"valid": {
			mutate: func(c *Config) {},
		},
		"unknown network": {
			mutate:  func(c *Config) { c.Network = "FUTURENET" },
			wantErr: errors.ErrInput,
		},
		"unknown backend": {
			mutate:  func(c *Config) { c.StoreBackend = "postgres" },
			wantErr: errors.ErrInput,
		},
		"durable store without directory": {
			mutate: func(c *Config) {
				c.StoreBackend = backendLevelDB
				c.DataDir = ""
			},
			wantErr: errors.ErrEmpty,
		},
		"sealed secret without passphrase": {
			mutate:  func(c *Config) { c.ChallengeSecretSealed = "{}" },
			wantErr: errors.ErrEmpty,
		},
		"both secrets": {
			mutate: func(c *Config) {
				c.ChallengeSecret = "S"
				c.ChallengeSecretSealed = "{}"
				c.ChallengePassphrase = "p"
			},
			wantErr: errors.ErrInput,
		},
		"zero page size": {
			mutate:  func(c *Config) { c.SpendPageSize = 0 },
			wantErr: errors.ErrInput,
		},
		"unknown log level": {
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: errors.ErrInput,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := testConfig()
			tc.mutate(c)
			err := c.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, tc.wantErr.Is(err), "got %v", err)
		})
	}
}

func TestServerKey(t *testing.T) {
	kp := torasuritest.NewKey(t)

	t.Run("plain", func(t *testing.T) {
		conf := testConfig()
		conf.ChallengeSecret = kp.Seed()
		got, err := serverKey(conf, log.NewNopLogger())
		require.NoError(t, err)
		assert.Equal(t, kp.Address(), got.Address())
	})

	t.Run("sealed", func(t *testing.T) {
		sealed, err := crypto.Seal(kp.Seed(), "correct horse", "torasuri", "pepper")
		require.NoError(t, err)

		conf := testConfig()
		conf.ChallengeSecretSealed = sealed.String()
		conf.ChallengePassphrase = "correct horse"
		conf.SealServerSecret = "pepper"
		got, err := serverKey(conf, log.NewNopLogger())
		require.NoError(t, err)
		assert.Equal(t, kp.Address(), got.Address())

		conf.ChallengePassphrase = "wrong"
		_, err = serverKey(conf, log.NewNopLogger())
		assert.True(t, crypto.ErrSeal.Is(err), "got %v", err)
	})

	t.Run("ephemeral", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := newLogger(&buf, "info")
		require.NoError(t, err)

		got, err := serverKey(testConfig(), logger)
		require.NoError(t, err)
		assert.NotEqual(t, kp.Address(), got.Address())
		assert.Contains(t, buf.String(), "ephemeral")
	})
}

func TestNewLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "error")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Error("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	_, err = newLogger(&buf, "loud")
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	conf := testConfig()
	conf.StoreBackend = backendSQLite
	conf.DataDir = t.TempDir()

	db, closeDB, err := openStore(conf)
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("k"), []byte("v")))
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
	require.NoError(t, closeDB())

	conf.StoreBackend = "postgres"
	_, _, err = openStore(conf)
	assert.Error(t, err)
}
