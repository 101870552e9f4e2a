// Command catalog-import appends gzip-compressed NDJSON product feeds to the
// catalog. Each line is one listing:
//
//	{"name":"...","description":"...","price":"120000","originalPrice":"300000",
//	 "condition":"90%","imageUrl":"...","status":"Available","category":"Jeans"}
//
// Listings repeated across feeds are imported once. Categories must exist.
package main

import (
	"context"
	"os"
	"path/filepath"
	"slices"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/secondhand-market/internal/catalog"
	"github.com/xenking/secondhand-market/internal/storage/postgres"
)

type config struct {
	DatabaseURL       string  `usage:"PostgreSQL connection URL (or DATABASE_URL env)" flag:"database-url"`
	DataDir           string  `default:"data" usage:"Directory containing *.ndjson.gz feeds" flag:"data-dir"`
	BatchSize         int     `default:"1000" usage:"Products per COPY batch" flag:"batch-size"`
	ExpectedListings  uint    `default:"5000000" usage:"Expected listings, sizes the duplicate filter" flag:"expected-listings"`
	FalsePositiveRate float64 `default:"0.001" usage:"Duplicate filter false positive rate" flag:"fpr"`
}

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		var cfg config
		if err := aconfig.LoaderFor(&cfg, aconfig.Config{EnvPrefix: "MARKET_IMPORT", SkipFiles: true}).Load(); err != nil {
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

	files, err := filepath.Glob(filepath.Join(cfg.DataDir, "*.ndjson.gz"))
	if err != nil {
		return errors.Wrap(err, "list feeds")
	}
	if len(files) == 0 {
		lg.Info("No feeds found", zap.String("dir", cfg.DataDir))
		return nil
	}
	slices.Sort(files)
	lg.Info("Importing feeds", zap.Strings("files", files))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxConns: 4})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	im := catalog.NewImporter(postgres.NewCatalogRepository(pool), catalog.ImportConfig{
		BatchSize:         cfg.BatchSize,
		ExpectedListings:  cfg.ExpectedListings,
		FalsePositiveRate: cfg.FalsePositiveRate,
	})
	stats, err := im.Run(ctx, files)
	fields := []zap.Field{
		zap.Int64("read", stats.Read),
		zap.Int64("malformed", stats.Malformed),
		zap.Int64("invalid", stats.Invalid),
		zap.Int64("duplicates", stats.Duplicates),
		zap.Int64("unknown_category", stats.UnknownCategory),
		zap.Int64("inserted", stats.Inserted),
	}
	if err != nil {
		lg.Error("Import stopped", fields...)
		return errors.Wrap(err, "import")
	}
	lg.Info("Import completed", fields...)
	return nil
}
