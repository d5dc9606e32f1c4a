package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botgate/billing"
	"botgate/config"
	"botgate/db"
	"botgate/ingest"
	"botgate/providers"
	"botgate/queue"
	"botgate/router"
	"botgate/workers"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "botgate",
		Short:        "Chat platform webhook ingestion and AI dispatch",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (JSON, JSON5 or YAML, optional).")

	var withWorker bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server (and the dispatch worker unless --worker=false)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, true, withWorker)
		},
	}
	serve.Flags().BoolVar(&withWorker, "worker", true, "Also run the dispatch worker and the lease reaper.")

	worker := &cobra.Command{
		Use:   "worker",
		Short: "Run only the dispatch worker and the lease reaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, false, true)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, logger, closeLog, err := setup(configPath)
			if err != nil {
				return err
			}
			defer closeLog()
			conf.Automigrate = false
			database, err := db.Connect(conf, logger)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := db.Migrate(database); err != nil {
				return err
			}
			logger.Info("schema migrated")
			return nil
		},
	}

	cmd.AddCommand(serve, worker, migrate)
	return cmd
}

func setup(configPath string) (config.Configuration, *slog.Logger, func(), error) {
	conf, err := config.Get(configPath)
	if err != nil {
		return conf, nil, nil, err
	}
	logger, closeLog, err := newLogger(conf)
	if err != nil {
		return conf, nil, nil, err
	}
	slog.SetDefault(logger)
	return conf, logger, closeLog, nil
}

// app holds the components shared by the server and the worker.
type app struct {
	db        *gorm.DB
	queue     *queue.Queue
	ledger    *billing.Ledger
	directory *providers.Directory
	pipeline  *ingest.Pipeline
}

func newApp(conf config.Configuration, logger *slog.Logger) (*app, error) {
	database, err := db.Connect(conf, logger)
	if err != nil {
		return nil, err
	}

	q := queue.New(database, queue.Options{
		MaxAttempts: conf.Worker.MaxAttempts,
		BackoffBase: conf.Worker.BackoffBase,
		BackoffMax:  conf.Worker.BackoffMax,
	})
	ledger := billing.NewLedger(database, logger)
	directory := providers.NewDirectory(conf.Providers, providers.Deps{
		DB:           database,
		Queue:        q,
		Messengers:   providers.TelegramMessengers(conf.Telegram.ApiURL),
		Biller:       ledger,
		HistoryLimit: conf.History.Limit,
		Logger:       logger,
	})
	pipeline := ingest.NewPipeline(database, directory, q, conf.Webhook.HandleTimeout, logger)

	return &app{
		db:        database,
		queue:     q,
		ledger:    ledger,
		directory: directory,
		pipeline:  pipeline,
	}, nil
}

func run(configPath string, withServer, withWorker bool) error {
	conf, logger, closeLog, err := setup(configPath)
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := newApp(conf, logger)
	if err != nil {
		return err
	}
	defer a.db.Close()
	logger.Info("providers registered", "providers", a.directory.Names())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if withServer {
		if conf.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		engine := gin.New()
		router.Initialize(engine, conf, router.Services{
			DB:       a.db,
			Pipeline: a.pipeline,
			Queue:    a.queue,
			Ledger:   a.ledger,
			Logger:   logger,
		})
		srv := &http.Server{
			Addr:              ":" + conf.ApiPort,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if withWorker {
		store := a.pipeline.Store()
		dispatcher := workers.NewDispatcher(a.queue, store, a.directory, conf.Worker, logger)
		reaper := workers.NewReaper(a.queue, conf.Worker.LeaseTimeout, conf.Worker.ReapSchedule, logger)
		g.Go(func() error { return dispatcher.Run(ctx) })
		g.Go(func() error { return reaper.Run(ctx) })
	}

	err = g.Wait()
	logger.Info("stopped")
	return err
}
