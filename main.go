package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ShanRaboy11/unitap/app"
	"github.com/ShanRaboy11/unitap/config"
	"github.com/ShanRaboy11/unitap/gateway"
	"github.com/ShanRaboy11/unitap/pkg/logger"
	"github.com/ShanRaboy11/unitap/relay"
	"github.com/ShanRaboy11/unitap/repository"
	"github.com/ShanRaboy11/unitap/server"
	cfg "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
)

var (
	homeDir  string
	httpPort string
	envFile  string
)

func init() {
	flag.StringVar(&homeDir, "cmt-home", "./node-config/unitap-node", "Path to the CometBFT config directory")
	flag.StringVar(&httpPort, "http-port", "5000", "HTTP web server port")
	flag.StringVar(&envFile, "env-file", "", "Optional dotenv file for off-chain configuration")
}

func main() {
	// Load Config
	flag.Parse()

	if homeDir == "" {
		homeDir = os.ExpandEnv("$HOME/.cometbft")
	}
	nodeConfig := cfg.DefaultConfig()
	nodeConfig.SetRoot(homeDir)
	viper.SetConfigFile(fmt.Sprintf("%s/%s", homeDir, "config/config.toml"))
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Reading config: %v", err)
	}
	if err := viper.Unmarshal(nodeConfig); err != nil {
		log.Fatalf("Decoding config: %v", err)
	}
	if err := nodeConfig.ValidateBasic(); err != nil {
		log.Fatalf("Invalid configuration data: %v", err)
	}

	if err := config.Load(envFile); err != nil {
		log.Fatalf("Loading off-chain config: %v", err)
	}
	offchain := config.Get()

	// Connect Postgresql DB. A failed connection is not fatal: the relay
	// serves the fallback file until the store comes back.
	repo := repository.NewRepository()
	if offchain.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, events go to the fallback file only")
	} else if err := repo.ConnectDB(offchain.DatabaseURL); err != nil {
		logger.Error("failed to connect to event store", "err", err)
	} else if err := repo.Migrate(); err != nil {
		log.Fatalf("Migrating event store: %v", err)
	}

	// Initialize Badger DB
	badgerPath := filepath.Join(homeDir, "badger")
	db, err := badger.Open(badger.DefaultOptions(badgerPath))
	if err != nil {
		log.Fatalf("Opening database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("Closing database: %v", err)
		}
	}()

	// Create ABCI Application
	cmtLogger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	application := app.NewABCIApplication(db, &app.AppConfig{LogAllTxs: true}, cmtLogger)

	// Private Validator
	pv := privval.LoadFilePV(
		nodeConfig.PrivValidatorKeyFile(),
		nodeConfig.PrivValidatorStateFile(),
	)

	// P2P network identity
	nodeKey, err := p2p.LoadNodeKey(nodeConfig.NodeKeyFile())
	if err != nil {
		log.Fatalf("failed to load node's key: %v", err)
	}

	cmtLogger, err = cmtflags.ParseLogLevel(nodeConfig.LogLevel, cmtLogger, cfg.DefaultLogLevel)
	if err != nil {
		log.Fatalf("failed to parse log level: %v", err)
	}

	// Initialize CometBFT node
	node, err := nm.NewNode(
		context.Background(),
		nodeConfig,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(application),
		nm.DefaultGenesisDocProviderFunc(nodeConfig),
		cfg.DefaultDBProvider,
		nm.DefaultMetricsProvider(nodeConfig.Instrumentation),
		cmtLogger,
	)
	if err != nil {
		log.Fatalf("Creating node: %v", err)
	}

	application.SetNodeID(string(node.NodeInfo().ID()))

	// Start CometBFT node
	node.Start()
	defer func() {
		node.Stop()
		node.Wait()
	}()

	rpcClient := cmtrpc.New(node)

	// Start the event relay on the node's event bus
	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()

	registry := prometheus.NewRegistry()
	metrics := relay.NewMetrics(registry)

	source := relay.NewCometSource(rpcClient)
	events, blocks, err := source.Start(relayCtx)
	if err != nil {
		log.Fatalf("Subscribing to ledger events: %v", err)
	}

	eventRelay := relay.New(repo, source, relay.Options{
		FallbackPath:   offchain.FallbackFile,
		HealthInterval: offchain.HealthCheckInterval,
		PendingTTL:     offchain.PendingBlockTTL,
		PendingMax:     offchain.PendingBlockMax,
		Metrics:        metrics,
	})
	go func() {
		if err := eventRelay.Run(relayCtx, events, blocks); err != nil && err != context.Canceled {
			logger.Error("event relay stopped", "err", err)
		}
	}()

	// Start Web Server
	gw := gateway.New(rpcClient, cmtLogger)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	webserver := server.NewWebServer(gw, httpPort, cmtLogger, node, rpcClient, metricsHandler)

	if err := webserver.Start(); err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	// Wait for interrupt signal to gracefully shut down the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := webserver.Shutdown(ctx); err != nil {
		cmtLogger.Error("Shutting down HTTP web server", "err", err)
	}
	cancelRelay()
	if err := repo.Close(); err != nil {
		logger.Error("closing event store", "err", err)
	}
	cmtLogger.Info("HTTP web server gracefully stopped")
}
