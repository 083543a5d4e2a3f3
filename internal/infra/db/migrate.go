package db

import (
	"context"
	"log/slog"

	"event-voucher/internal/pkg/config"
	"event-voucher/internal/pkg/errs"

	"ariga.io/atlas-go-sdk/atlasexec"
)

type MigrateOptions struct {
	// directory holding the versioned SQL files and atlas.sum
	Dir string
	// path of the atlas binary
	AtlasBin string
	DryRun   bool
}

// Migrate applies pending versioned migrations through the atlas CLI.
func Migrate(ctx context.Context, cfg config.DBConfig, opts MigrateOptions, logger *slog.Logger) error {
	if opts.AtlasBin == "" {
		opts.AtlasBin = "atlas"
	}
	client, err := atlasexec.NewClient(".", opts.AtlasBin)
	if err != nil {
		return errs.Wrap(err, "failed to init atlas client")
	}

	res, err := client.MigrateApply(ctx, &atlasexec.MigrateApplyParams{
		URL:    cfg.BuildDSN(),
		DirURL: "file://" + opts.Dir,
		DryRun: opts.DryRun,
	})
	if err != nil {
		return errs.Wrap(err, "failed to apply migrations")
	}

	for _, f := range res.Applied {
		logger.Info("migration applied", "version", f.Version, "file", f.Name)
	}
	logger.Info("database schema is up to date",
		"current", res.Current,
		"target", res.Target,
		"pending", len(res.Pending),
		"dry_run", opts.DryRun)
	return nil
}
