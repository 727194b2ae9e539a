package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/sales-ledger/internal/adapter/handler"
	"github.com/rl1809/sales-ledger/internal/adapter/idgen"
	"github.com/rl1809/sales-ledger/internal/adapter/messaging"
	"github.com/rl1809/sales-ledger/internal/adapter/storage"
	"github.com/rl1809/sales-ledger/internal/config"
	"github.com/rl1809/sales-ledger/internal/core/domain"
	"github.com/rl1809/sales-ledger/internal/core/service"
	"github.com/rl1809/sales-ledger/internal/metrics"
	"github.com/rl1809/sales-ledger/internal/port"
	"github.com/rl1809/sales-ledger/internal/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("SALES_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracerProvider(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
			logger.Error("failed to shut down tracer provider", zap.Error(err))
		}
	}()

	uow, reader, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ids, err := newIDGenerator(cfg.Sales)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(recorder),
		service.WithStrictTotals(cfg.Sales.StrictTotals),
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
		opts = append(opts, service.WithIdempotency(storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL)))
	}

	publishers, closePublishers, err := openPublishers(cfg.Messaging, logger)
	if err != nil {
		return err
	}
	defer closePublishers()
	if len(publishers) > 0 {
		opts = append(opts, service.WithEvents(publishers))
	}

	saleService := service.NewSaleService(uow, reader, ids, opts...)
	timeout := handler.WithRequestTimeout(cfg.Sales.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.GRPCAddr != "" {
		grpcServer := grpc.NewServer()
		handler.RegisterSaleServiceServer(grpcServer, handler.NewGRPCHandler(saleService, logger, timeout))

		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		g.Go(func() error {
			logger.Info("gRPC server listening", zap.String("addr", cfg.Server.GRPCAddr))
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcServer.GracefulStop()
			logger.Info("gRPC server stopped")
			return nil
		})
	}

	if cfg.Server.HTTPAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(gin.Recovery())
		handler.NewHTTPHandler(saleService, logger, timeout).Register(router)
		router.GET("/metrics", gin.WrapH(recorder.Handler()))

		httpServer := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: router}
		g.Go(func() error {
			logger.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPAddr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown http: %w", err)
			}
			logger.Info("HTTP server stopped")
			return nil
		})
	}

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (port.UnitOfWork, port.SaleReader, func(), error) {
	if cfg.Database.Driver == "memory" {
		store := storage.NewMemoryAdapter()
		for _, p := range cfg.Sales.SeedProducts {
			store.PutProduct(domain.Product{ID: p.ID, Name: p.Name, Stock: p.Stock})
		}
		logger.Info("using in-memory store", zap.Int("products", len(cfg.Sales.SeedProducts)))
		return store, store, func() {}, nil
	}

	dialect := storage.DialectMySQL
	if cfg.Database.Driver == "postgres" {
		dialect = storage.DialectPostgres
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s: %w", cfg.Database.Driver, err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("ping %s: %w", cfg.Database.Driver, err)
	}
	logger.Info("connected to database", zap.String("driver", cfg.Database.Driver))

	if cfg.Database.AutoMigrate {
		if err := storage.EnsureSchema(ctx, db, dialect); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
	}

	adapter := storage.NewSQLAdapter(db, dialect)
	return adapter, adapter, func() { db.Close() }, nil
}

func newIDGenerator(cfg config.SalesConfig) (port.IDGenerator, error) {
	if cfg.IDGenerator == "snowflake" {
		return idgen.NewSnowflakeGenerator(cfg.SnowflakeNode)
	}
	return idgen.NewUUIDGenerator(), nil
}

func openPublishers(cfg config.MessagingConfig, logger *zap.Logger) (messaging.Fanout, func(), error) {
	var publishers messaging.Fanout
	var closers []func() error

	if cfg.RabbitMQ.URL != "" {
		rabbit, err := messaging.DialRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			return nil, nil, err
		}
		publishers = append(publishers, rabbit)
		closers = append(closers, rabbit.Close)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka := messaging.NewKafkaPublisher(messaging.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		publishers = append(publishers, kafka)
		closers = append(closers, kafka.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error("failed to close publisher", zap.Error(err))
			}
		}
	}
	return publishers, closeAll, nil
}
