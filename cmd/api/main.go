package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"stagehand/internal/adapter/cache"
	"stagehand/internal/adapter/repo"
	"stagehand/internal/billing"
	"stagehand/internal/engine"
	"stagehand/internal/http/handlers"
	httpapi "stagehand/internal/http/httpapi"
	"stagehand/internal/infra"
	"stagehand/internal/push"
	"stagehand/internal/storage"
	"stagehand/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	generations := repo.NewGenerationRepository(dbpool)
	profiles := repo.NewProfileRepository(dbpool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	statuses := cache.NewStatusCache(rdb)
	reader := cache.NewCachedStatusReader(statuses, generations)

	store, err := newStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	invoker, closeInvoker, err := newInvoker(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize worker invoker")
	}
	defer closeInvoker()

	notifier := engine.NewFeedNotifier(cfg.DefaultLocale, logger)

	eng := engine.New(engine.Options{
		Generations: generations,
		Profiles:    profiles,
		Reader:      reader,
		Store:       store,
		Invoker:     invoker,
		Notifier:    notifier,
		Logger:      logger,
		Reconciler: engine.ReconcilerConfig{
			PollInterval: cfg.PollInterval,
			PollCeiling:  cfg.PollCeiling,
		},
		BatchConcurrency: cfg.BatchConcurrency,
	})
	go eng.Run(ctx)

	listener := push.NewListener(dbpool, eng.Reconciler(), statuses, logger)
	go listener.Run(ctx)

	app := handlers.NewApp()
	app.Engine = eng
	app.Notifier = notifier
	app.Generations = generations
	app.Profiles = profiles
	app.Listener = listener
	app.Config = cfg
	app.Logger = logger
	app.Prices = billing.PriceMap{
		Basic:    cfg.StripePriceBasic,
		Standard: cfg.StripePriceStd,
		Pro:      cfg.StripePricePro,
	}
	if cfg.CheckoutBaseURL != "" {
		app.Checkout = billing.NewCheckoutClient(cfg.CheckoutBaseURL, nil)
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newStore(cfg *infra.Config) (engine.ObjectStore, error) {
	if cfg.StorageDriver == "filesystem" {
		return storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	}
	return storage.NewObjectStore(context.Background(), storage.ObjectStoreConfig{
		Endpoint:   cfg.MinioEndpoint,
		AccessKey:  cfg.MinioAccessKey,
		SecretKey:  cfg.MinioSecretKey,
		Bucket:     cfg.MinioBucket,
		UseSSL:     cfg.MinioUseSSL,
		PublicBase: cfg.MinioPublicBase,
	})
}

func newInvoker(cfg *infra.Config) (engine.Invoker, func(), error) {
	if cfg.InvokerDriver == "http" {
		return worker.NewHTTPInvoker(cfg.WorkerFnURL, cfg.WorkerFnKey, nil), func() {}, nil
	}
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, nil, err
	}
	inv, err := worker.NewAMQPInvoker(conn, cfg.AMQPExchange, cfg.AMQPRoutingKey)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return inv, func() { conn.Close() }, nil
}
