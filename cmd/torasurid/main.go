/*
Command torasurid runs the treasury spend approval service.

It is configured from the environment, see Config. All state is kept in the
configured store, challenges optionally in Redis.
*/
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/cron"
	"github.com/iov-one/torasuri/crypto"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/store"
	"github.com/iov-one/torasuri/x/challenge"
	"github.com/iov-one/torasuri/x/signers"
	"github.com/iov-one/torasuri/x/spend"
	"github.com/iov-one/torasuri/x/treasury"
	"github.com/stellar/go/keypair"
	"github.com/tendermint/tendermint/libs/log"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	conf, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %s\n", err)
		os.Exit(2)
	}
	logger, err := newLogger(os.Stdout, conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %s\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, logger); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level string) (log.Logger, error) {
	allow, err := log.AllowLevel(level)
	if err != nil {
		return nil, err
	}
	logger := log.NewTMLogger(log.NewSyncWriter(w))
	return log.NewFilter(logger, allow), nil
}

// run serves until the context is cancelled.
func run(ctx context.Context, conf *Config, logger log.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, closeDB, err := openStore(conf)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() {
		if err := closeDB(); err != nil {
			logger.Error("cannot close store", "err", err)
		}
	}()

	server, err := serverKey(conf, logger)
	if err != nil {
		return errors.Wrap(err, "challenge server key")
	}

	clock := torasuri.SystemClock{}
	runner := cron.NewRunner(conf.SweepInterval, logger)

	var challenges challenge.Store
	if conf.RedisAddr != "" {
		client, err := challenge.DialRedis(ctx, conf.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		challenges = challenge.NewRedisStore(client, "torasuri:", clock)
	} else {
		bs := challenge.NewBucketStore(db, clock)
		runner.Add("challenge", bs)
		challenges = bs
	}

	a, err := newApp(conf, db, challenges, server, ledger.NewHorizon(conf.Horizon(), conf.SubmitTimeout), clock, logger)
	if err != nil {
		return err
	}
	runner.Add("spend", spend.NewSweeper(a.spends))

	srv := &http.Server{
		Addr:              conf.HTTPAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	cronDone := make(chan struct{})
	go func() {
		defer close(cronDone)
		runner.Run(ctx)
	}()

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", conf.HTTPAddr, "network", conf.Network, "challenge_server", ledger.Short(server.Address()))
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		cancel()
		<-cronDone
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	<-cronDone
	return nil
}

// app wires all services the HTTP handlers use.
type app struct {
	treasuries *treasury.Provider
	registry   *signers.Registry
	challenges *challenge.Service
	spends     *spend.Engine
	domain     string
	clock      torasuri.Clock
	logger     log.Logger
}

func newApp(
	conf *Config,
	db torasuri.KVStore,
	challenges challenge.Store,
	server *keypair.Full,
	submitter ledger.Submitter,
	clock torasuri.Clock,
	logger log.Logger,
) (*app, error) {
	network := conf.StellarNetwork()
	treasuries := treasury.NewProvider(db)
	registry := signers.NewRegistry(db, clock, logger)

	existing, err := treasuries.List()
	if err != nil {
		return nil, errors.Wrap(err, "list treasuries")
	}
	for _, cfg := range existing {
		if cfg.PublicKey == server.Address() {
			return nil, errors.Wrapf(errors.ErrInput, "challenge server key is the key of treasury %q", cfg.TreasuryID)
		}
	}

	svc, err := challenge.NewService(challenge.Config{
		Network:   network,
		ServerKey: server,
		TTL:       conf.ChallengeTTL,
		Rate:      rate.Limit(conf.ChallengeRate),
		Burst:     conf.ChallengeBurst,
	}, challenges, clock, logger)
	if err != nil {
		return nil, errors.Wrap(err, "challenge service")
	}

	engine := spend.NewEngine(spend.Config{
		Network:       network,
		Expiry:        conf.SpendExpiry(),
		PageSize:      conf.SpendPageSize,
		SubmitTimeout: conf.SubmitTimeout,
	}, db, treasuries, registry, submitter, clock, logger)

	return &app{
		treasuries: treasuries,
		registry:   registry,
		challenges: svc,
		spends:     engine,
		domain:     conf.ChallengeDomain,
		clock:      clock,
		logger:     logger.With("module", "http"),
	}, nil
}

// openStore returns the configured database and the function closing it.
func openStore(conf *Config) (torasuri.KVStore, func() error, error) {
	noop := func() error { return nil }
	switch conf.StoreBackend {
	case backendMemory:
		return store.NewMemStore(), noop, nil
	case backendLevelDB:
		db, err := store.OpenLevelDB("torasuri", conf.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case backendSQLite:
		if err := os.MkdirAll(conf.DataDir, 0o700); err != nil {
			return nil, nil, errors.Wrap(errors.ErrDatabase, err.Error())
		}
		db, err := store.OpenSQLite(filepath.Join(conf.DataDir, "torasuri.db"))
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return nil, nil, errors.Wrapf(errors.ErrInput, "store backend %q", conf.StoreBackend)
	}
}

// serverKey returns the key challenges are signed with.
func serverKey(conf *Config, logger log.Logger) (*keypair.Full, error) {
	switch {
	case conf.ChallengeSecret != "":
		return ledger.ParseSeed(conf.ChallengeSecret)
	case conf.ChallengeSecretSealed != "":
		sealed, err := crypto.ParseSealed(conf.ChallengeSecretSealed)
		if err != nil {
			return nil, err
		}
		seed, err := crypto.Open(sealed, conf.ChallengePassphrase, conf.ChallengeDomain, conf.SealServerSecret)
		if err != nil {
			return nil, err
		}
		return ledger.ParseSeed(seed)
	default:
		kp, err := ledger.RandomKey()
		if err != nil {
			return nil, err
		}
		logger.Error("no challenge secret configured, using an ephemeral key; pending challenges will not survive a restart",
			"pk", ledger.Short(kp.Address()))
		return kp, nil
	}
}
