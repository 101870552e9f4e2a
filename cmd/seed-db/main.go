// Command seed-db loads the demo catalog into the database. Running it again
// only adds what is missing.
package main

import (
	"context"
	"os"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-market/db"
	"github.com/xenking/secondhand-market/internal/catalog"
	"github.com/xenking/secondhand-market/internal/storage/postgres"
)

type config struct {
	DatabaseURL string `usage:"PostgreSQL connection URL (or DATABASE_URL env)" flag:"database-url"`
	File        string `default:"" usage:"Seed JSON file; empty uses the embedded demo catalog" flag:"file"`
	Migrate     bool   `default:"true" usage:"Apply pending migrations first" flag:"migrate"`
}

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		var cfg config
		if err := aconfig.LoaderFor(&cfg, aconfig.Config{EnvPrefix: "MARKET", SkipFiles: true}).Load(); err != nil {
			return errors.Wrap(err, "load config")
		}
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		}
		if cfg.DatabaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		return run(zctx.Base(ctx, lg), cfg)
	})
}

func run(ctx context.Context, cfg config) error {
	lg := zctx.From(ctx)

	data := db.Catalog
	if cfg.File != "" {
		lg.Info("Reading seed file", zap.String("path", cfg.File))
		b, err := os.ReadFile(cfg.File)
		if err != nil {
			return errors.Wrap(err, "read seed file")
		}
		data = b
	}
	seed, err := catalog.ParseSeed(data)
	if err != nil {
		return err
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxConns: 4})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if cfg.Migrate {
		applied, err := postgres.RunMigrations(pool)
		if err != nil {
			return errors.Wrap(err, "run migrations")
		}
		lg.Info("Migrations checked", zap.Bool("applied", applied))
	}

	inserted, err := catalog.Load(ctx, postgres.NewCatalogRepository(pool), seed)
	if err != nil {
		return err
	}
	lg.Info("Seed completed",
		zap.Int("categories", len(seed.Categories)),
		zap.Int64("products_inserted", inserted),
	)
	return nil
}
