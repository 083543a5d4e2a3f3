package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"event-voucher/internal/infra/db"
	"event-voucher/internal/pkg/config"

	"github.com/kelseyhightower/envconfig"
)

func main() {
	var opts db.MigrateOptions
	flag.StringVar(&opts.Dir, "dir", "migrations", "migration directory")
	flag.StringVar(&opts.AtlasBin, "atlas", "atlas", "atlas binary")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "print pending migrations without applying them")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var cfg config.DBConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logger.Error("DB設定の読み込みに失敗しました", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(ctx, cfg, opts, logger); err != nil {
		logger.Error("マイグレーションに失敗しました", "error", err)
		os.Exit(1)
	}
}
