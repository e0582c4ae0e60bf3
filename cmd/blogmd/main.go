// Package main provides the blogmd server application entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/euforicio/blogmd/internal/buildinfo"
	"github.com/euforicio/blogmd/internal/catalog"
	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/content"
	"github.com/euforicio/blogmd/internal/renderer"
	"github.com/euforicio/blogmd/internal/server"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("blogmd", pflag.ExitOnError)
	config.RegisterFlags(flags, &cfg)
	versionFlag := flags.Bool("version", false, "Print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("parse flags", slog.Any("err", err))
		os.Exit(1)
	}
	if *versionFlag {
		fmt.Println(buildinfo.Summary())
		os.Exit(0)
	}
	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger = logger.With("app", "blogmd")
	slog.SetDefault(logger)
	logger.Info("starting blogmd", buildinfo.LogAttr(), slog.String("root", cfg.RootDir), slog.String("site", cfg.Site.Name))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown complete")
			return
		}
		logger.Error("blogmd failed", slog.Any("err", err))
		cancel()
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rendererSvc := renderer.NewService(logger)
	contentSvc, err := content.NewService(ctx, cfg.RootDir, rendererSvc, logger, content.Options{
		IncludeDrafts: cfg.IncludeDrafts,
		Watch:         cfg.Watch,
	})
	if err != nil {
		return fmt.Errorf("content service init: %w", err)
	}
	defer func() {
		if err := contentSvc.Close(); err != nil {
			logger.Error("close content service", slog.Any("err", err))
		}
	}()

	repo := catalog.New(contentSvc, logger)
	repoDone := make(chan struct{})
	go func() {
		defer close(repoDone)
		repo.Run(ctx)
	}()
	defer func() {
		cancel()
		<-repoDone
	}()

	srv, err := server.New(cfg, logger, repo)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	return srv.Start(ctx)
}
