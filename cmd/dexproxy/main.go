package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/dexproxy/dexproxy/api"
	"github.com/dexproxy/dexproxy/config"
	"github.com/dexproxy/dexproxy/core/adaptor"
	"github.com/dexproxy/dexproxy/core/cache"
	"github.com/dexproxy/dexproxy/core/chain"
	"github.com/dexproxy/dexproxy/core/events"
	"github.com/dexproxy/dexproxy/core/lifecycle"
	"github.com/dexproxy/dexproxy/core/nonce"
	"github.com/dexproxy/dexproxy/core/poller"
	"github.com/dexproxy/dexproxy/core/request"
	"github.com/dexproxy/dexproxy/core/signer"
	"github.com/dexproxy/dexproxy/core/whitelist"
	"github.com/dexproxy/dexproxy/crypto/ethsigner"
	"github.com/dexproxy/dexproxy/db"
	"github.com/dexproxy/dexproxy/db/goleveldb"
	"github.com/dexproxy/dexproxy/log"
)

// shutdownHooks holds the Stop methods run registers, in the order main calls
// them on shutdown: drain the status poller, then flush the request cache.
var shutdownHooks []func()

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting dexproxy", "version", Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("failed to start dexproxy: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received signal, shutting down", "signal", sig.String())
	for _, stop := range shutdownHooks {
		stop()
	}
}

func run(ctx context.Context, cfg *Config) error {
	signingAccount, err := ethsigner.NewSignerFromHex(cfg.Web3.PrivKey)
	if err != nil {
		return fmt.Errorf("could not load signer: %w", err)
	}
	log.Infow("loaded signing account", "address", signingAccount.Address().Hex())

	chainID := config.AvailableNetworks[cfg.Web3.Network]
	chainClient, err := chain.Dial(ctx, cfg.Web3.Rpc[0], chainID)
	if err != nil {
		return fmt.Errorf("could not dial web3 endpoint: %w", err)
	}

	store, err := goleveldb.New(db.Options{Path: cfg.Cache.Datadir})
	if err != nil {
		return fmt.Errorf("could not open request cache store: %w", err)
	}

	requestCache := cache.New(store, cache.DefaultConfig())
	dispatcher := events.New()

	// mgr is assigned once, below, before any poller/manager goroutine
	// actually runs; the closures just need the binding, not the value now.
	var mgr *lifecycle.Manager
	statusPoller := poller.New(chainClient, chainClient, cfg.Cache.PollInterval,
		func(clientRequestID string) bool {
			r, err := requestCache.Get(clientRequestID)
			return err == nil && r.IsFinalised()
		},
		func(clientRequestID string, status request.Status, receipt *gethtypes.Receipt) {
			mgr.OnPollerUpdate(clientRequestID, status, receipt)
		},
	)

	maxAllowedGasPriceWei, ok := new(big.Int).SetString(cfg.Web3.MaxAllowedGasPriceWei, 10)
	if !ok {
		return fmt.Errorf("invalid web3.maxGasPrice %q", cfg.Web3.MaxAllowedGasPriceWei)
	}

	signPool := signer.New(cfg.Web3.SignWorkerCount, cfg.Web3.SignJobTimeout)
	signPool.Start(ctx)

	adaptors := map[string]adaptor.Adaptor{}
	for _, name := range cfg.Web3.Venues {
		venue, ok := config.DefaultVenues[name]
		if !ok {
			return fmt.Errorf("unknown venue %q", name)
		}
		adaptors[name] = adaptor.NewMempoolAdaptor(venue.Name, chainClient, signingAccount, signPool, nil,
			common.HexToAddress(venue.ContractAddress), venue.GasLimit)
	}

	if err := requestCache.Start(ctx, nil); err != nil {
		return fmt.Errorf("could not start request cache: %w", err)
	}
	// Resume one past the highest persisted nonce; the chain is not queried.
	var startNonce uint64
	if recovered, ok := requestCache.GetMaxNonce(nil); ok {
		startNonce = recovered + 1
	}
	nonceDispatcher := nonce.New(startNonce)

	withdrawalWhitelist, err := whitelist.New()
	if err != nil {
		return fmt.Errorf("could not load withdrawal whitelist: %w", err)
	}

	// No venue registered below is builder-targeted yet, so no BundleSender
	// needs wiring in; a future builder-targeted venue would add its entry
	// here keyed by venue name.
	bundleSenders := map[string]*adaptor.BundleSender{}

	mgr = lifecycle.New(requestCache, nonceDispatcher, statusPoller, dispatcher, adaptors, maxAllowedGasPriceWei, withdrawalWhitelist, bundleSenders)

	statusPoller.Start(ctx)
	shutdownHooks = append(shutdownHooks, statusPoller.Stop, requestCache.Stop)

	if _, err := api.New(ctx, &api.APIConfig{
		Host:    cfg.API.Host,
		Port:    cfg.API.Port,
		Manager: mgr,
		Events:  dispatcher,
	}); err != nil {
		return fmt.Errorf("could not start API server: %w", err)
	}
	return nil
}
