// Command transaction-service owns transactions, the savings ledger,
// budgets, anomalies and reports, and publishes a TransactionChanged event
// after every committed write.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"spendly/internal/amqp"
	"spendly/internal/analytics"
	"spendly/internal/anomaly"
	"spendly/internal/budget"
	"spendly/internal/cli"
	"spendly/internal/config"
	apphttp "spendly/internal/http"
	"spendly/internal/insights"
	"spendly/internal/ledger"
	"spendly/internal/log"
	"spendly/internal/notify"
	"spendly/internal/reports"
	"spendly/internal/reports/sheets"
	"spendly/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap("transaction-service")

	ctx, stop := cli.SignalContext(logger)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Transaction service stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Transaction service stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	repo, err := cli.OpenSQLite(logger, cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	loader, stopCache := cli.NewCache(cfg.CacheSize, cfg.CacheTTL)
	defer stopCache()

	// Without a broker the service still accepts writes; events are skipped
	// and alerts only reach the log.
	var (
		publisher services.Publisher
		sink      notify.Sink = notify.NewLogSink(logger)
	)
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, amqp.Queues{
		TransactionChanged: cfg.AMQPTransactionQueue,
		Notification:       cfg.AMQPNotificationQueue,
		Email:              cfg.AMQPEmailQueue,
		Report:             cfg.AMQPReportQueue,
	})
	if err != nil {
		logger.Warn("AMQP unavailable, running without event publishing", log.FieldError, err)
	} else {
		defer amqpClient.Close()
		publisher = amqpClient
		sink = notify.NewDispatcher(amqpClient, logger)
	}

	reconciler := ledger.NewReconciler(repo, logger)
	aggregator := analytics.NewAggregator(repo, time.Now)
	tracker := budget.NewTracker(repo, aggregator, sink, logger)
	detector := anomaly.NewDetector(repo, aggregator, logger)

	transactions := services.NewTransactionService(repo, reconciler, aggregator, publisher, loader, cfg.CacheTTL, logger,
		services.NamedHandler{Name: "budget", Handler: tracker},
		services.NamedHandler{Name: "anomaly", Handler: detector},
	)

	goalClient := apphttp.NewGoalSummaryClient(apphttp.ClientConfig{
		BaseURL: cfg.GoalServiceURL,
		Timeout: cfg.UpstreamTimeout,
		Retries: cfg.UpstreamRetries,
		Logger:  logger,
	})
	health := insights.NewHealthService(aggregator, reconciler, goalClient, logger)

	reportService := reports.NewService(transactions, logger)
	if amqpClient != nil {
		queue := reports.NewQueueExporter(amqpClient)
		reportService.Register(reports.FormatCSV, queue)
		reportService.Register(reports.FormatPDF, queue)
	}
	if cfg.GoogleSpreadsheetID != "" {
		exporter, err := sheets.NewFromEnv(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleReportSheet)
		if err != nil {
			logger.Warn("Google Sheets export disabled", log.FieldError, err)
		} else {
			reportService.Register(reports.FormatSheets, exporter)
			logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
		}
	}

	scheduler := budget.NewScheduler(tracker, repo, budget.SchedulerConfig{
		CheckInterval: cfg.BudgetScheduleInterval,
		RunDay:        1,
	}, logger)
	recurring := services.NewRecurringProcessor(repo, transactions, cfg.RecurringInterval, logger)

	api := apphttp.NewTransactionAPI(transactions, tracker, detector, health, reportService)
	srv, err := apphttp.NewServer(":"+cfg.Port, api, apphttp.Options{Logger: logger, Ready: repo.Ping})
	if err != nil {
		return err
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	if err := recurring.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting transaction service", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down transaction service")

		shutdownCtx, cancel := cli.ShutdownContext()
		defer cancel()

		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn("Budget scheduler stop failed", log.FieldError, err)
		}
		if err := recurring.Stop(shutdownCtx); err != nil {
			logger.Warn("Recurring processor stop failed", log.FieldError, err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
