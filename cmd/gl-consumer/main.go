// Command gl-consumer wires the GL engine's write path: config, database
// pool, bus connection, posting/reversal consumers, and the outbox
// publisher loop. Grounded on account-balance-processor/go/main.go's
// flag-parsing and zap-logger bootstrap.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/withobsrvr/gl-ledger/internal/bus"
	"github.com/withobsrvr/gl-ledger/internal/config"
	"github.com/withobsrvr/gl-ledger/internal/consumer"
	"github.com/withobsrvr/gl-ledger/internal/outbox"
	"github.com/withobsrvr/gl-ledger/internal/posting"
	"github.com/withobsrvr/gl-ledger/internal/reversal"
	"github.com/withobsrvr/gl-ledger/internal/wire"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer logger.Sync()

	configPath := flag.String("config", "config.yaml", "path to the gl-consumer YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConn)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConn)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	amqpBus, err := bus.Dial(cfg.Bus.URL, logger)
	if err != nil {
		logger.Fatal("failed to connect to bus", zap.Error(err))
	}
	defer amqpBus.Close()

	postingSvc := posting.NewService(db, logger)
	reversalSvc := reversal.NewService(db, logger)

	go func() {
		if err := consumer.Run[wire.PostingRequest](ctx, amqpBus, db, logger, consumer.PostingSubject, consumer.NewPostingHandler(postingSvc)); err != nil && ctx.Err() == nil {
			logger.Error("posting consumer stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := consumer.Run[wire.ReversalRequest](ctx, amqpBus, db, logger, consumer.ReversalSubject, consumer.NewReversalHandler(reversalSvc)); err != nil && ctx.Err() == nil {
			logger.Error("reversal consumer stopped", zap.Error(err))
		}
	}()
	go outbox.RunPublisher(ctx, db, amqpBus, logger, cfg.OutboxTickInterval())

	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		addr := ":" + cfg.Service.HealthPort
		logger.Info("starting health check server", zap.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("health check server stopped", zap.Error(err))
		}
	}()

	logger.Info("gl-consumer started", zap.String("service", cfg.Service.Name))
	<-ctx.Done()
	logger.Info("gl-consumer shutting down")
}
