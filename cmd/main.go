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

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/itisteddy/fan-club-z-sub008/internal/auth"
	"github.com/itisteddy/fan-club-z-sub008/internal/backend"
	"github.com/itisteddy/fan-club-z-sub008/internal/bot"
	"github.com/itisteddy/fan-club-z-sub008/internal/commitment"
	"github.com/itisteddy/fan-club-z-sub008/internal/config"
	"github.com/itisteddy/fan-club-z-sub008/internal/handlers"
	"github.com/itisteddy/fan-club-z-sub008/internal/ledger"
	"github.com/itisteddy/fan-club-z-sub008/internal/ledger/sol"
	"github.com/itisteddy/fan-club-z-sub008/internal/logger"
	"github.com/itisteddy/fan-club-z-sub008/internal/metrics"
	"github.com/itisteddy/fan-club-z-sub008/internal/payout"
	"github.com/itisteddy/fan-club-z-sub008/internal/service"
	"github.com/itisteddy/fan-club-z-sub008/internal/storage"
)

var (
	version = "dev"
	commit  = "none"
)

const explorerURL = "https://explorer.solana.com/tx/%s"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "", "path to a config file (yaml, toml or json)")
	verbose := pflag.Bool("verbose", false, "enable debug logging")
	pflag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(os.Stdout, cfg.Logging.Level)
	slog.SetDefault(log)
	metrics.BuildInfo.WithLabelValues(version, commit).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("initializing database", "path", cfg.Storage.DatabasePath)
	store, err := storage.Open(ctx, storage.Config{Path: cfg.Storage.DatabasePath, Logger: log})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	rpc := sol.NewRPC(cfg.Ledger.RPCURL)
	watcher, err := sol.NewWatcher(sol.WatcherConfig{
		Logger:         log,
		RPC:            rpc,
		PollInterval:   cfg.Settlement.PollInterval,
		DefaultTimeout: cfg.Settlement.ConfirmTimeout,
	})
	if err != nil {
		return err
	}

	var session *ledger.Session
	if cfg.Ledger.SignerKeyBase58 != "" {
		signer, err := sol.NewKeypairSigner(log, rpc, cfg.Ledger.SignerKeyBase58, cfg.Ledger.ProgramID)
		if err != nil {
			return err
		}
		session = signer.Session()
		addr, _ := signer.Address(ctx)
		log.Info("server signer loaded", "address", addr)
	}
	sessionFn := func() *ledger.Session { return session }

	chainID := cfg.Ledger.ChainID
	if chainID == "" {
		hash, err := rpc.GetGenesisHash(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve chain id from %s: %w", cfg.Ledger.RPCURL, err)
		}
		chainID = hash.String()
	}
	log.Info("ledger configured", "rpc_url", cfg.Ledger.RPCURL, "chain_id", chainID)

	policy := service.Policy{ContestWindow: cfg.Dispute.ContestWindow, Arbiters: cfg.Dispute.Arbiters}
	fees := payout.FeeSchedule{PlatformBps: cfg.Fees.PlatformBps, CreatorBps: cfg.Fees.CreatorBps}
	pricing := commitment.Pricing{UnitsPerUSD: cfg.Fees.UnitsPerUSD}
	local := service.NewLocalPreparer(store, policy, fees, pricing)

	var (
		preparer service.Preparer = local
		notifier service.Notifier = service.LogNotifier{}
	)
	if cfg.Backend.BaseURL != "" {
		client, err := backend.NewClient(backend.Config{
			BaseURL:    cfg.Backend.BaseURL,
			ServiceKey: cfg.Backend.ServiceKey,
			Timeout:    cfg.Backend.Timeout,
			Logger:     log,
		})
		if err != nil {
			return err
		}
		preparer, notifier = client, client
		log.Info("using settlement backend", "base_url", cfg.Backend.BaseURL)
	}

	events := service.MultiSink{service.LogSink{}}
	var notifications *service.NotificationService
	if cfg.Telegram.BotToken != "" {
		sender, err := service.NewTelegramSender(cfg.Telegram.BotToken)
		if err != nil {
			return err
		}
		notifications, err = service.NewNotificationService(service.NotificationConfig{
			Store:         store,
			Sender:        sender,
			AdminID:       cfg.Telegram.AdminID,
			ChannelID:     cfg.Telegram.ChannelID,
			ContestWindow: cfg.Dispute.ContestWindow,
			UnitsPerUSD:   cfg.Fees.UnitsPerUSD,
			ExplorerURL:   explorerURL,
		})
		if err != nil {
			return err
		}
		events = append(events, notifications)
	}

	disputes, err := service.NewDisputeService(service.DisputeConfig{Store: store, Policy: policy, Events: events})
	if err != nil {
		return err
	}
	coordinator, err := service.NewCoordinator(service.CoordinatorConfig{
		Store:             store,
		Preparer:          preparer,
		Notifier:          notifier,
		Watcher:           watcher,
		Events:            events,
		Policy:            policy,
		ChainID:           chainID,
		PlatformRecipient: cfg.Fees.PlatformRecipient,
		ConfirmTimeout:    cfg.Settlement.ConfirmTimeout,
		Confirmations:     cfg.Settlement.Confirmations,
		Logger:            log,
	})
	if err != nil {
		return err
	}

	api, err := handlers.New(handlers.Config{
		Store:            store,
		Disputes:         disputes,
		Coordinator:      coordinator,
		Preparer:         local,
		Session:          sessionFn,
		Validator:        auth.NewValidator(cfg.Telegram.BotToken),
		ServiceKey:       cfg.Backend.ServiceKey,
		FilingsPerMinute: cfg.Dispute.FilingsPerMinute,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var worker *service.ContestWorker
	if cfg.Settlement.AutoSubmit {
		worker, err = service.NewContestWorker(service.ContestWorkerConfig{
			Store:       store,
			Coordinator: coordinator,
			Policy:      policy,
			Session:     sessionFn,
			Interval:    cfg.Settlement.WorkerInterval,
		})
		if err != nil {
			return err
		}
	}

	var tg *bot.Bot
	if cfg.Telegram.BotToken != "" {
		tg, err = bot.New(bot.Config{
			Token:       cfg.Telegram.BotToken,
			WebAppURL:   cfg.Telegram.WebAppURL,
			Store:       store,
			Disputes:    disputes,
			Coordinator: coordinator,
			UnitsPerUSD: cfg.Fees.UnitsPerUSD,
		})
		if err != nil {
			return err
		}
	} else {
		log.Warn("telegram bot token not set: bot, notifications and authenticated API are disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if worker != nil {
		worker.Start()
		g.Go(func() error {
			<-gctx.Done()
			worker.Stop()
			return nil
		})
	}

	if tg != nil {
		go tg.Start()
		g.Go(func() error {
			<-gctx.Done()
			tg.Stop()
			return nil
		})
	}

	err = g.Wait()
	if notifications != nil {
		notifications.Wait()
	}
	log.Info("shutdown complete")
	return err
}
