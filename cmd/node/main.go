// Command node runs a tolarena validator: block production, the JSON-RPC
// endpoint and, when configured, the Postgres archive.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tolelom/tolarena/archive"
	"github.com/tolelom/tolarena/config"
	"github.com/tolelom/tolarena/consensus"
	"github.com/tolelom/tolarena/core"
	"github.com/tolelom/tolarena/crypto"
	"github.com/tolelom/tolarena/events"
	"github.com/tolelom/tolarena/indexer"
	"github.com/tolelom/tolarena/internal/logger"
	"github.com/tolelom/tolarena/rpc"
	"github.com/tolelom/tolarena/storage"
	"github.com/tolelom/tolarena/vm"
	"github.com/tolelom/tolarena/vm/modules/arena"
	"github.com/tolelom/tolarena/wallet"

	// Transaction handlers register themselves in init.
	_ "github.com/tolelom/tolarena/vm/modules/economy"
	_ "github.com/tolelom/tolarena/vm/modules/oracle"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	envFile := flag.String("env-file", "", "load TOL_* variables from this .env file")
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	flag.Parse()

	log := logger.New(*verbose)

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	// Keystore password comes from the environment; flags leak via ps.
	password := os.Getenv("TOL_PASSWORD")
	if password == "" {
		log.Warn("TOL_PASSWORD not set, keystore uses an empty password")
	}

	if *genKey {
		priv, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		if err := wallet.SaveKey(*keyPath, password, priv); err != nil {
			return err
		}
		fmt.Printf("Validator public key: %s\nSaved to: %s\n", pub.Hex(), *keyPath)
		return nil
	}

	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	cfg, err := loadConfig(*cfgPath, log)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(cfg.Validators) == 0 {
		log.Warn("no validators configured, running as the only validator")
		cfg.Validators = []string{privKey.Public().Hex()}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	// State, blocks and the index share one database under distinct prefixes.
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewLevelBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}
	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesis, nil); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		log.Info("genesis block committed", "hash", genesis.Hash, "chain_id", cfg.Genesis.ChainID)
	}

	emitter := events.NewEmitter(log)
	arena.ObserveEvents(emitter)
	idx := indexer.New(db, emitter, log)
	mempool := core.NewMempool(cfg.Genesis.ChainID, nil)
	exec := vm.NewExecutor(state, emitter)
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, privKey, nil, log)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.ArchiveDSN != "" {
		if err := archive.Migrate(cfg.ArchiveDSN); err != nil {
			return fmt.Errorf("archive migrate: %w", err)
		}
		store, err := archive.Open(ctx, cfg.ArchiveDSN, log)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer store.Close()
		store.Subscribe(emitter)
		g.Go(func() error { return store.Run(ctx) })
		log.Info("archive enabled")
	}

	if err := poa.Reconcile(); err != nil {
		return err
	}

	handler := rpc.NewHandler(bc, mempool, state.Committed(), idx, cfg.Genesis.ChainID, nil)
	server := rpc.NewServer(cfg.RPCAddr, handler, rpc.Options{
		AuthToken: cfg.RPCAuthToken,
		RateLimit: cfg.RPCRateLimit,
		Burst:     cfg.RPCBurst,
		Metrics:   cfg.Metrics,
	}, log)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return poa.Run(ctx) })

	log.Info("node running",
		"validator", privKey.Public().Hex(),
		"rpc_addr", cfg.RPCAddr,
		"height", bc.Height(),
		"rpc_auth", cfg.RPCAuthToken != "",
	)

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}

func loadConfig(path string, log *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("config file not found, using defaults", "path", path)
		cfg = config.DefaultConfig()
	} else if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}
