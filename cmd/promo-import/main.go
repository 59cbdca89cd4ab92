// Command promo-import bulk-loads coupon and promotion definitions from
// gzip-compressed JSON-lines files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/importer"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/storage/postgres"
)

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file.jsonl.gz...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, databaseURL, flag.Args()); err != nil {
		lg.Error("Import failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, files []string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	im := importer.New(
		postgres.NewMechanismRepository(pool, discount.KindCoupon),
		postgres.NewMechanismRepository(pool, discount.KindPromotion),
		postgres.NewMenuRepository(pool),
	)
	stats, err := im.Run(ctx, files)
	if err != nil {
		return err
	}

	zctx.From(ctx).Info("Import completed",
		zap.Int("files", len(files)),
		zap.Int64("read", stats.Read),
		zap.Int64("invalid", stats.Invalid),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("inserted", stats.Inserted),
	)
	return nil
}
