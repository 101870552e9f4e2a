package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/secondhand-market/internal/domain/product"
)

// ImportConfig tunes an Importer.
type ImportConfig struct {
	// BatchSize is the number of products written per InsertProducts call.
	BatchSize int
	// ExpectedListings and FalsePositiveRate size the duplicate filter.
	ExpectedListings uint
	FalsePositiveRate float64
}

// DefaultImportConfig suits feeds of a few million listings.
var DefaultImportConfig = ImportConfig{
	BatchSize:         1000,
	ExpectedListings:  5_000_000,
	FalsePositiveRate: 0.001,
}

// ImportStats summarizes an import run.
type ImportStats struct {
	Read            int64
	Malformed       int64
	Invalid         int64
	Duplicates      int64
	UnknownCategory int64
	Inserted        int64
}

// Importer reads feeds concurrently and appends their listings to a Sink.
//
// Listings are de-duplicated across all feeds of one run by name, category,
// condition and price. The check uses a Bloom filter, so a small fraction
// (the configured false positive rate) of distinct listings may be dropped
// as duplicates.
type Importer struct {
	sink     Sink
	cfg      ImportConfig
	validate *validator.Validate
	now      func() time.Time
}

// NewImporter returns an Importer writing to sink.
func NewImporter(sink Sink, cfg ImportConfig) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultImportConfig.BatchSize
	}
	if cfg.ExpectedListings == 0 {
		cfg.ExpectedListings = DefaultImportConfig.ExpectedListings
	}
	if cfg.FalsePositiveRate <= 0 {
		cfg.FalsePositiveRate = DefaultImportConfig.FalsePositiveRate
	}
	return &Importer{
		sink:     sink,
		cfg:      cfg,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Run imports every file. Each file is read by its own goroutine; a single
// writer de-duplicates, resolves categories and writes batches. Categories
// must already exist.
func (im *Importer) Run(ctx context.Context, files []string) (ImportStats, error) {
	lg := zctx.From(ctx)
	categories, err := im.sink.EnsureCategories(ctx, nil)
	if err != nil {
		return ImportStats{}, errors.Wrap(err, "load categories")
	}

	var (
		stats     ImportStats
		read      atomic.Int64
		malformed atomic.Int64
		listings  = make(chan Listing, im.cfg.BatchSize)
	)

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)
	for _, path := range files {
		readers.Go(func() error {
			err := ReadFeed(rctx, path, func(l Listing) error {
				read.Add(1)
				select {
				case listings <- l:
					return nil
				case <-rctx.Done():
					return rctx.Err()
				}
			}, func(e *LineError) {
				malformed.Add(1)
				lg.Warn("Skipping malformed line", zap.Error(e))
			})
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			lg.Info("Feed read", zap.String("path", path))
			return nil
		})
	}

	g.Go(func() error {
		defer close(listings)
		return readers.Wait()
	})
	g.Go(func() error {
		return im.write(gctx, listings, categories, &stats)
	})
	err = g.Wait()

	stats.Read = read.Load()
	stats.Malformed = malformed.Load()
	return stats, err
}

func (im *Importer) write(ctx context.Context, listings <-chan Listing, categories map[string]int64, stats *ImportStats) error {
	lg := zctx.From(ctx)
	seen := bloom.NewWithEstimates(im.cfg.ExpectedListings, im.cfg.FalsePositiveRate)
	batch := make([]product.Product, 0, im.cfg.BatchSize)
	now := im.now().UTC()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := im.sink.InsertProducts(ctx, batch)
		if err != nil {
			return errors.Wrap(err, "insert products")
		}
		stats.Inserted += n
		lg.Debug("Batch written", zap.Int64("inserted", stats.Inserted))
		batch = batch[:0]
		return nil
	}

	for l := range listings {
		if err := l.check(im.validate); err != nil {
			stats.Invalid++
			continue
		}
		id, ok := categories[l.Category]
		if !ok {
			stats.UnknownCategory++
			continue
		}
		if seen.TestOrAddString(l.key()) {
			stats.Duplicates++
			continue
		}
		batch = append(batch, l.Product(id, now))
		if len(batch) == im.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return flush()
}
