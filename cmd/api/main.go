package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"closer/internal/api"
	"closer/internal/chain"
	"closer/internal/config"
	"closer/internal/database"
	"closer/internal/domain"
	"closer/internal/events"
	"closer/internal/jobs"
	"closer/internal/logging"
	"closer/internal/metrics"
	"closer/internal/platform"
	"closer/internal/repository"
	"closer/internal/service"
	"closer/internal/worker"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

type cache interface {
	domain.ChainCache
	domain.BlobCache
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	network, err := chain.LookupNetwork(cfg.Network)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	chainCache := initCache(cfg, redisClient, &logger)

	rpcURL := cfg.Chain.RPCURL
	if rpcURL == "" {
		rpcURL = network.RPCURL
	}
	rpc, err := chain.Dial(rpcURL)
	if err != nil {
		logger.Error().Err(err).Str("rpc_url", rpcURL).Msg("dial rpc")
		return err
	}
	defer rpc.Close()

	contracts, ethClient, err := initContracts(cfg, rpc, &logger)
	if err != nil {
		return err
	}

	eventBus := events.NewEventBus(logging.Component(&logger, "events"))

	platformClient := platform.NewClient(cfg.Platform, logging.Component(&logger, "platform"))
	platformClient.UseCache(chainCache, cfg.Platform.ConfigTTL)
	platform.ForwardEvents(eventBus, platformClient, logging.Component(&logger, "platform"), cfg.Platform.Timeout)

	var referrals domain.ReferralSubmitter
	if cfg.Features.Referral {
		referrals = platformClient
	}

	tracker := worker.NewTxTracker(worker.TxTrackerDeps{
		Store:    db,
		Receipts: ethClient,
		Cache:    chainCache,
		Events:   eventBus,
		Redis:    redisClient,
		Options: worker.TrackerOptions{
			Retry: worker.RetryPolicy{
				MaxRetries:    cfg.Tracker.MaxRetries,
				InitialDelay:  cfg.Tracker.InitialDelay,
				MaxDelay:      cfg.Tracker.MaxDelay,
				BackoffFactor: cfg.Tracker.BackoffFactor,
			},
			PollInterval: cfg.Tracker.PollInterval,
			BatchSize:    cfg.Tracker.BatchSize,
			QueueKey:     cfg.Tracker.QueueKey,
			Grace:        cfg.Chain.ReceiptTimeout,
		},
		Logger: logging.Component(&logger, "tx-tracker"),
	})

	bookings := service.NewBookingStakeService(service.BookingStakeDeps{
		Contracts:   contracts,
		Receipts:    ethClient,
		Cache:       chainCache,
		Tracker:     tracker,
		Events:      eventBus,
		Referrals:   referrals,
		ChainID:     network.ChainID,
		WindowYears: cfg.Booking.WindowYears,
		Logger:      logging.Component(&logger, "booking"),
	})

	purchases := service.NewPurchaseService(service.PurchaseDeps{
		Contracts: contracts,
		Receipts:  ethClient,
		Cache:     chainCache,
		Tracker:   tracker,
		Events:    eventBus,
		Referrals: referrals,
		Curve:     cfg.Curve.Build(),
		ChainID:   network.ChainID,
		Logger:    logging.Component(&logger, "purchase"),
	})

	backups := database.NewBackupService(db.Path(), cfg.Backup, logging.Component(&logger, "backup"))
	var sale jobs.SaleReader
	if cfg.Features.TokenSale {
		sale = purchases
	}
	scheduler := jobs.NewScheduler(sale, backups, db, jobs.Schedules{
		SaleSnapshot: cfg.Jobs.SaleSnapshot,
		Backup:       cfg.Backup.Schedule,
		TxPrune:      cfg.Jobs.TxPrune,
		TxRetention:  cfg.Jobs.TxRetention,
	}, logging.Component(&logger, "jobs"))

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	grpcServer, err := api.NewGRPCServer(&cfg.API, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}

	readiness := readinessChecks(db, redisClient, rpc)
	httpServer := api.NewHTTPServer(&cfg.API, api.Services{
		Booking:      bookings,
		Sale:         purchases,
		Curve:        cfg.Curve.Build(),
		Transactions: db,
		Platform:     platformClient,
		TxLimiter:    chainCache,
		Readiness:    readiness,
		Features:     cfg.Features,
		ExportDir:    cfg.Exports.Path,
	}, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)

	go tracker.Start(ctx)
	go grpcServer.WatchReadiness(ctx, readiness, 0)

	if err := scheduler.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("start scheduler")
		return err
	}
	defer scheduler.Stop()

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App, cfg.Network)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initCache(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) cache {
	memory := repository.NewMemoryChainCache(cfg.Redis.CacheTTL)
	if client == nil {
		return memory
	}
	return repository.NewFailoverChainCache(
		repository.NewRedisChainCache(client, cfg.Redis.CacheTTL),
		memory,
		logging.Component(logger, "cache"),
	)
}

func initContracts(cfg *config.Config, rpc *ethclient.Client, logger *zerolog.Logger) (*chain.Contracts, *chain.EthClient, error) {
	var key *ecdsa.PrivateKey
	if cfg.Chain.SignerKey == "" {
		logger.Warn().Msg("no signer key configured, chain writes are disabled")
	} else {
		parsed, err := chain.ParsePrivateKey(cfg.Chain.SignerKey)
		if err != nil {
			logger.Error().Err(err).Msg("parse signer key")
			return nil, nil, err
		}
		key = parsed
	}

	ethClient := chain.NewEthClient(rpc, key, chain.Options{
		PollInterval:   cfg.Chain.PollInterval,
		ReceiptTimeout: cfg.Chain.ReceiptTimeout,
		GasBufferPct:   cfg.Chain.GasBufferPct,
	}, logger)

	active := cfg.ActiveContracts()
	addresses, err := chain.ParseAddresses(active.DAOToken, active.Diamond, active.DynamicSale, active.PaymentToken)
	if err != nil {
		logger.Error().Err(err).Str("network", cfg.Network).Msg("parse contract addresses")
		return nil, nil, err
	}

	contracts, err := chain.NewContracts(ethClient, addresses)
	if err != nil {
		return nil, nil, fmt.Errorf("init contracts: %w", err)
	}
	return contracts, ethClient, nil
}

func readinessChecks(db *database.DB, client *redis.Client, rpc *ethclient.Client) []api.ReadinessCheck {
	checks := []api.ReadinessCheck{
		{Name: "database", Check: db.Ping},
		{Name: "chain", Check: func(ctx context.Context) error {
			_, err := rpc.BlockNumber(ctx)
			return err
		}},
	}
	if client != nil {
		checks = append(checks, api.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return repository.Ping(ctx, client)
		}})
	}
	return checks
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	go func() {
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
