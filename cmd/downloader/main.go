package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fb_downloader/internal/auth"
	"fb_downloader/internal/cli"
	"fb_downloader/internal/config"
	"fb_downloader/internal/domain"
	"fb_downloader/internal/export"
	"fb_downloader/internal/graph"
	"fb_downloader/internal/publisher"
	"fb_downloader/internal/scheduler"
	"fb_downloader/internal/service"
	"fb_downloader/internal/source/facebook"
	"fb_downloader/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	checkEnv := flag.Bool("check-env", false, "verify app credentials and exit")
	watch := flag.Bool("watch", false, "take a snapshot every watch.interval using the saved token")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if *checkEnv {
		if !cli.CheckEnv(os.Stdout, cfg.Facebook) {
			os.Exit(1)
		}
		return
	}

	if !cfg.Facebook.HasCredentials() {
		cli.CheckEnv(os.Stdout, cfg.Facebook)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *watch, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("downloader stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, watch bool, logger *slog.Logger) error {
	authn, err := auth.NewAuthenticator(auth.Config{
		AppID:       cfg.Facebook.AppID,
		AppSecret:   cfg.Facebook.AppSecret,
		RedirectURL: cfg.Facebook.RedirectURL,
		Scopes:      cfg.Facebook.Scopes,
		Graph: graph.Config{
			BaseURL:           cfg.Facebook.GraphURL,
			Version:           cfg.Facebook.Version,
			Timeout:           cfg.API.Timeout,
			RequestsPerSecond: cfg.API.RequestsPerSecond,
			RateLimitAttempts: cfg.API.Retry.RateLimitAttempts,
			TransientAttempts: cfg.API.Retry.TransientAttempts,
			InitialBackoff:    cfg.API.Retry.InitialBackoff,
			MaxBackoff:        cfg.API.Retry.MaxBackoff,
		},
	}, logger)
	if err != nil {
		return err
	}

	exporter := export.New(cfg.Storage.DataDir, logger)

	var archive *service.Archive
	if cfg.Database.Enabled {
		db, err := postgres.Connect(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info("connected to database")

		archive = &service.Archive{
			Snapshots: postgres.NewSnapshotStore(db),
			Posts:     postgres.NewPostStore(db),
			Comments:  postgres.NewCommentStore(db),
			TxManager: postgres.NewTransactionManager(db),
		}
	}

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	connect := func(cred domain.Credential) (*pipeline, error) {
		session, err := authn.NewSession(cred)
		if err != nil {
			return nil, err
		}

		source := facebook.New(session, facebook.Config{
			PostsPageSize:    cfg.API.PostsPageSize,
			CommentsPageSize: cfg.API.CommentsPageSize,
			CommentWorkers:   cfg.Fetch.CommentWorkers,
		}, logger)

		return &pipeline{
			source:  source,
			service: service.NewDownloadService(source, exporter, archive, pub, logger, cfg.Fetch),
		}, nil
	}

	if watch {
		cred, ok := auth.LoadToken(cfg.Storage.TokenPath)
		if !ok {
			return fmt.Errorf("no saved token at %s; authenticate interactively first", cfg.Storage.TokenPath)
		}

		p, err := connect(cred)
		if err != nil {
			return err
		}

		logger.Info("starting watch mode",
			"interval", cfg.Watch.Interval,
			"limit", cfg.Watch.Limit,
		)

		return scheduler.NewScheduler(p.service, cfg.Watch.Interval, cfg.Watch.Limit, logger).
			StopOn(graph.ErrAuthExpired).
			Start(ctx)
	}

	app := cli.New(authn, func(cred domain.Credential) (cli.Client, error) {
		p, err := connect(cred)
		if err != nil {
			return nil, err
		}
		return p, nil
	}, exporter, cli.Config{
		TokenPath: cfg.Storage.TokenPath,
		Fetch:     cfg.Fetch,
	}, os.Stdin, os.Stdout, logger)

	return app.Run(ctx)
}

// pipeline binds one authenticated source to its download service.
type pipeline struct {
	source  *facebook.Source
	service *service.DownloadService
}

func (p *pipeline) GetUserInfo(ctx context.Context) (*domain.UserProfile, error) {
	return p.source.GetUserInfo(ctx)
}

func (p *pipeline) Download(ctx context.Context, limit int, progress facebook.ProgressFunc) (*domain.DownloadStats, error) {
	p.source.SetProgress(progress)
	defer p.source.SetProgress(nil)

	return p.service.Download(ctx, limit)
}

func (p *pipeline) LatestSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	return p.service.LatestSnapshot(ctx)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}
