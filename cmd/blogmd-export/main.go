// Package main provides the blogmd static site export CLI.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/euforicio/blogmd/internal/buildinfo"
	"github.com/euforicio/blogmd/internal/config"
	"github.com/euforicio/blogmd/internal/exporter"
)

func main() {
	cfg := config.Default()
	config.ApplyEnvOverrides(&cfg)

	flags := pflag.NewFlagSet("blogmd-export", pflag.ExitOnError)
	flags.StringVarP(&cfg.RootDir, "root", "r", cfg.RootDir, "root directory containing the blog's markdown files")
	flags.StringVar(&cfg.StaticOutput, "out", cfg.StaticOutput, "output directory for the generated static site")
	flags.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "directory containing prepared static assets to copy")
	flags.StringVar(&cfg.SiteFile, "site", cfg.SiteFile, "path to the site.yaml settings file (defaults to <root>/site.yaml)")
	flags.StringVar(&cfg.Site.URL, "base-url", cfg.Site.URL, "absolute base URL for canonical links, the feed and the sitemap")
	flags.BoolVar(&cfg.IncludeDrafts, "drafts", cfg.IncludeDrafts, "export articles marked as drafts")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug logging")
	includeHidden := flags.Bool("hidden", false, "include hidden files when scanning the content tree")
	clean := flags.Bool("clean", true, "wipe the output directory before exporting")
	exclude := flags.StringSlice("exclude", nil, "additional directory names to skip while scanning")

	if err := flags.Parse(os.Args[1:]); err != nil {
		slog.Error("flag parsing failed", slog.Any("err", err))
		os.Exit(1)
	}

	if err := config.Finalize(&cfg); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("starting blogmd-export", buildinfo.LogAttr())

	exp, err := exporter.New(logger)
	if err != nil {
		logger.Error("init exporter failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := exp.Export(ctx, exporter.Options{
		Root:          cfg.RootDir,
		OutputDir:     cfg.StaticOutput,
		AssetsDir:     cfg.AssetsDir,
		Site:          cfg.Site,
		ExcludeDirs:   *exclude,
		IncludeHidden: *includeHidden,
		IncludeDrafts: cfg.IncludeDrafts,
		CleanOutput:   *clean,
	})
	if err != nil {
		logger.Error("export failed", slog.Any("err", err))
		cancel()
		//nolint:gocritic // exitAfterDefer: cancel() explicitly called before os.Exit
		os.Exit(1)
	}

	logger.Info("export succeeded",
		slog.String("output", cfg.StaticOutput),
		slog.Int("articles", res.Articles),
		slog.Int("tags", res.Tags))
}
