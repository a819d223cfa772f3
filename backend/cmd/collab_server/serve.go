package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"collabEngine/backend/config"
	"collabEngine/backend/internal/cache"
	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/httpapi"
	"collabEngine/backend/internal/logger"
	"collabEngine/backend/internal/store"
	"collabEngine/backend/internal/ws"
)

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "serve",
		Short:         "Start the collaboration HTTP / WebSocket server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env 不存在时忽略
			_ = godotenv.Load()
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Running.LogLevel)
	defer func() { _ = log.Sync() }()
	if cfg.Running.Mode != "" {
		gin.SetMode(cfg.Running.Mode)
	}

	// === 缓存 ===
	var cacheStore cache.Store
	var rdb redis.UniversalClient
	if len(cfg.Redis.Addrs) > 0 {
		// 单地址为单机，多地址为集群
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Cache.ReadTimeout*10)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		cacheStore = cache.NewRedisStore(rdb, cfg.Redis.Prefix)
	} else {
		log.Warn("redis not configured, using in-process cache")
		cacheStore = cache.NewMemoryStore()
	}
	bridge := cache.NewBridge(cacheStore, log.Named("cache"), cache.BridgeOptions{
		SessionTTL:   cfg.Cache.SessionTTL,
		DocumentTTL:  cfg.Cache.DocumentTTL,
		Jitter:       cfg.Cache.Jitter,
		Workers:      cfg.Cache.Workers,
		QueueSize:    cfg.Cache.QueueSize,
		ReadTimeout:  cfg.Cache.ReadTimeout,
		WriteTimeout: cfg.Cache.WriteTimeout,
	})

	// === MySQL ===
	gdb, err := store.InitMySQL(cfg.Mysql.DSN, store.MySQLOptions{
		MaxOpenConns:    cfg.Mysql.MaxOpenConns,
		MaxIdleConns:    cfg.Mysql.MaxIdleConns,
		ConnMaxLifetime: cfg.Mysql.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect mysql: %w", err)
	}
	if cfg.Mysql.AutoMigrate {
		if err := store.AutoMigrate(gdb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	contentStore := store.NewContentStore(gdb)
	snapshotStore := store.NewSnapshotStore(sqlDB)

	engineOpts := collab.Options{
		HistoryLimit:     cfg.Collab.HistoryLimit,
		QueueWaitTimeout: cfg.Collab.QueueWaitTimeout,
		HoldTimeout:      cfg.Collab.HoldTimeout,
		IdleTimeout:      cfg.Collab.IdleTimeout,
		Archiver:         snapshotStore,
	}

	// === Kafka（可选）===
	var dispatcher *collab.KafkaDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer producer.Close()

		dispatcher = collab.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			collab.NewSemaphoreControl(collab.DefaultMaxSemaphore),
			log.Named("kafka"),
			collab.KafkaDispatcherOptions{
				QueueSize:   cfg.Kafka.QueueSize,
				Workers:     cfg.Kafka.Workers,
				MaxRetry:    cfg.Kafka.MaxRetry,
				BaseBackoff: cfg.Kafka.BaseBackoff,
				MaxBackoff:  cfg.Kafka.MaxBackoff,
			},
		)
		engineOpts.Publisher = dispatcher
	} else {
		log.Warn("kafka not configured, document events are not published")
	}

	engine := collab.NewEngine(contentStore, bridge, log.Named("collab"), engineOpts)
	manager := ws.NewManager(ws.NewHub(), engine, collab.NewSemaphoreControl(cfg.Collab.MaxInflightOps), log.Named("ws"), cfg.Cors.AllowOrigins)
	router := httpapi.NewRouter(engine, manager, log.Named("http"), httpapi.RouterOptions{
		JWTSecret:    []byte(cfg.Auth.JWTSecret),
		AllowOrigins: cfg.Cors.AllowOrigins,
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Running.Port), Handler: router}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("collab server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go engine.RunIdleSweeper(sigCtx, cfg.Collab.SweepInterval)
	select {
	case <-sigCtx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	// 顺序：停止接入 -> 引擎落盘 -> 缓存写回排空 -> 事件排空
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Collab.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}
	if err := bridge.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("cache bridge close: %w", err))
	}
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("kafka dispatcher close: %w", err))
		}
	}
	return errors.Join(errs...)
}
