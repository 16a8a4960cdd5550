// Command goal-service keeps savings goals in step with the user's balance
// by consuming TransactionChanged events, and serves goal summaries.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"golang.org/x/sync/errgroup"

	"spendly/internal/amqp"
	"spendly/internal/cli"
	"spendly/internal/config"
	"spendly/internal/goals"
	apphttp "spendly/internal/http"
	"spendly/internal/log"
	"spendly/internal/notify"
)

func main() {
	cfg, logger := cli.Bootstrap("goal-service")

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Goal service stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Goal service stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	repo, err := cli.OpenSQLite(logger, cfg.GoalDBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	loader, stopCache := cli.NewCache(cfg.CacheSize, goals.CacheTTL)
	defer stopCache()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, amqp.Queues{
		TransactionChanged: cfg.AMQPTransactionQueue,
		Notification:       cfg.AMQPNotificationQueue,
		Email:              cfg.AMQPEmailQueue,
	})
	if err != nil {
		return err
	}
	defer amqpClient.Close()

	upstream := apphttp.NewSummaryClient(apphttp.ClientConfig{
		BaseURL: cfg.TransactionServiceURL,
		Timeout: cfg.UpstreamTimeout,
		Retries: cfg.UpstreamRetries,
		Logger:  logger,
	})
	service := goals.NewService(repo, upstream, notify.NewDispatcher(amqpClient, logger), loader, logger)

	srv, err := apphttp.NewServer(":"+cfg.GoalPort, apphttp.NewGoalAPI(service), apphttp.Options{Logger: logger, Ready: repo.Ping})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting goal service", "port", cfg.GoalPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := amqpClient.ConsumeTransactionChanged(gctx, service.HandleTransactionChanged)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down goal service")

		shutdownCtx, cancel := cli.ShutdownContext()
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
