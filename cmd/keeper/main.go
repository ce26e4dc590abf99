// Command keeper settles arena rounds as the authority: it finalizes each
// finished day, records the ranking from --winners-dir and can keep a price
// feed updated from an HTTP source.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tolelom/tolarena/internal/logger"
	"github.com/tolelom/tolarena/keeper"
	"github.com/tolelom/tolarena/wallet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rpcURL := flag.String("rpc", "http://127.0.0.1:8545", "node JSON-RPC URL (or set TOL_RPC_URL env var)")
	token := flag.String("token", "", "RPC bearer token (or set TOL_RPC_AUTH_TOKEN env var)")
	keyPath := flag.String("key", "authority.key", "path to the authority keystore file")
	chainID := flag.String("chain-id", "tolarena-dev", "chain id transactions are signed for")
	winnersDir := flag.String("winners-dir", "winners", "directory of <day_id>.yaml rankings")
	schedule := flag.String("schedule", "5 0 * * *", "cron schedule (UTC) for settling the previous day")
	runOnce := flag.Bool("run-once", false, "settle the previous day once and exit")
	envFile := flag.String("env-file", "", "load variables from this .env file")
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")

	priceURL := flag.String("price-url", "", "HTTP JSON price source; empty disables publishing")
	pricePath := flag.String("price-path", "price", "gjson path of the price in the source response")
	confPath := flag.String("conf-path", "", "gjson path of the confidence interval")
	timePath := flag.String("time-path", "", "gjson path of the publish time (unix seconds); empty uses local time")
	priceExpo := flag.Int32("price-expo", -8, "exponent published prices are scaled to")
	feedID := flag.String("feed-id", "SOL/USD", "price feed id to publish")
	priceInterval := flag.Duration("price-interval", 30*time.Second, "price publish interval")
	flag.Parse()

	log := logger.New(*verbose)

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	if v := os.Getenv("TOL_RPC_URL"); v != "" {
		*rpcURL = v
	}
	if v := os.Getenv("TOL_RPC_AUTH_TOKEN"); v != "" {
		*token = v
	}

	priv, err := wallet.LoadKey(*keyPath, os.Getenv("TOL_PASSWORD"))
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	clock := clockwork.NewRealClock()
	client := keeper.NewClient(*rpcURL, *token)
	sub := keeper.NewSubmitter(client, wallet.New(priv, *chainID), log)
	k := keeper.New(client, sub, keeper.FileSelector{Dir: *winnersDir}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *runOnce {
		return k.RunOnce(ctx)
	}

	sched := cron.New(cron.WithLocation(time.UTC))
	if _, err := sched.AddFunc(*schedule, func() {
		if err := k.RunOnce(ctx); err != nil {
			log.Error("keeper run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", *schedule, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Start()
		<-ctx.Done()
		<-sched.Stop().Done()
		return nil
	})

	if *priceURL != "" {
		src := &keeper.HTTPPriceSource{
			URL:       *priceURL,
			PricePath: *pricePath,
			ConfPath:  *confPath,
			TimePath:  *timePath,
			Expo:      *priceExpo,
			Clock:     clock,
		}
		pub := keeper.NewPricePublisher(sub, src, *feedID, *priceInterval, clock, log)
		g.Go(func() error { return pub.Run(ctx) })
	}

	log.Info("keeper running",
		"authority", priv.Public().Hex(),
		"rpc", *rpcURL,
		"schedule", *schedule,
		"price_feed", *priceURL != "",
	)
	return g.Wait()
}
