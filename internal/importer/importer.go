// Package importer bulk-loads coupon and promotion definitions from
// gzip-compressed JSON-lines files.
package importer

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/menu"
)

const (
	bloomFPR      = 0.001
	minBloomSize  = 1024
	defaultBatch  = 5000
	maxLineBytes  = 1 << 20
	progressEvery = 100_000
)

// Store is the persistence side of one mechanism kind.
type Store interface {
	IDs(ctx context.Context, fn func(tenantID, id string)) error
	Exists(ctx context.Context, tenantID, id string) (bool, error)
	CopyIn(ctx context.Context, ms []discount.Mechanism) (int64, error)
}

// Stats summarizes an import.
type Stats struct {
	Read     int64
	Invalid  int64
	Skipped  int64
	Inserted int64
}

// Importer validates definitions and inserts the ones not yet stored.
type Importer struct {
	stores    map[discount.Kind]Store
	catalog   menu.Catalog
	batchSize int
}

// New creates an Importer. catalog is used to check free item targets.
func New(coupons, promotions Store, catalog menu.Catalog) *Importer {
	return &Importer{
		stores: map[discount.Kind]Store{
			discount.KindCoupon:    coupons,
			discount.KindPromotion: promotions,
		},
		catalog:   catalog,
		batchSize: defaultBatch,
	}
}

func key(kind discount.Kind, tenantID, id string) string {
	return string(kind) + "\x00" + tenantID + "\x00" + id
}

// known holds the ids stored before the import started. The bloom filter
// answers most lookups; positives are confirmed against the store.
type known struct {
	filter *bloom.BloomFilter
	stores map[discount.Kind]Store
}

func (k *known) contains(ctx context.Context, m discount.Mechanism) (bool, error) {
	if !k.filter.TestString(key(m.Kind, m.TenantID, m.ID)) {
		return false, nil
	}
	return k.stores[m.Kind].Exists(ctx, m.TenantID, m.ID)
}

func (im *Importer) loadKnown(ctx context.Context) (*known, error) {
	var keys []string
	for kind, s := range im.stores {
		if err := s.IDs(ctx, func(tenantID, id string) {
			keys = append(keys, key(kind, tenantID, id))
		}); err != nil {
			return nil, errors.Wrapf(err, "load %s ids", kind)
		}
	}
	filter := bloom.NewWithEstimates(uint(max(len(keys), minBloomSize)), bloomFPR)
	for _, k := range keys {
		filter.AddString(k)
	}
	return &known{filter: filter, stores: im.stores}, nil
}

// Run imports every file. Invalid records are logged and counted; any
// storage failure aborts the import.
func (im *Importer) Run(ctx context.Context, files []string) (Stats, error) {
	lg := zctx.From(ctx)

	existing, err := im.loadKnown(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	parsed := make([][]discount.Mechanism, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			ms, err := im.parseFile(gctx, path, &stats)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			parsed[i] = ms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	seen := make(map[string]struct{})
	pending := make(map[discount.Kind][]discount.Mechanism)
	for _, ms := range parsed {
		for _, m := range ms {
			k := key(m.Kind, m.TenantID, m.ID)
			if _, dup := seen[k]; dup {
				stats.Skipped++
				continue
			}
			seen[k] = struct{}{}

			ok, err := existing.contains(ctx, m)
			if err != nil {
				return stats, errors.Wrapf(err, "check %s %s", m.Kind, m.ID)
			}
			if ok {
				stats.Skipped++
				continue
			}
			pending[m.Kind] = append(pending[m.Kind], m)
		}
	}

	for kind, ms := range pending {
		for start := 0; start < len(ms); start += im.batchSize {
			batch := ms[start:min(start+im.batchSize, len(ms))]
			n, err := im.stores[kind].CopyIn(ctx, batch)
			if err != nil {
				return stats, errors.Wrapf(err, "insert %s batch", kind)
			}
			stats.Inserted += n
		}
		lg.Info("Inserted definitions", zap.String("kind", string(kind)), zap.Int("count", len(ms)))
	}
	return stats, nil
}

func (im *Importer) parseFile(ctx context.Context, path string, stats *Stats) ([]discount.Mechanism, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	return im.parse(ctx, path, gz, stats)
}

func (im *Importer) parse(ctx context.Context, name string, r io.Reader, stats *Stats) ([]discount.Mechanism, error) {
	lg := zctx.From(ctx).With(zap.String("file", name))

	var (
		out  []discount.Mechanism
		line int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if n := atomic.AddInt64(&stats.Read, 1); n%progressEvery == 0 {
			lg.Info("Import progress", zap.Int64("read", n))
		}

		m, err := Decode(raw)
		if err == nil {
			err = im.check(ctx, &m)
		}
		if err != nil {
			var ce *checkError
			if errors.As(err, &ce) {
				return nil, ce.err
			}
			atomic.AddInt64(&stats.Invalid, 1)
			lg.Warn("Skipping invalid record", zap.Int("line", line), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	return out, nil
}

// check validates a definition, including that a free item target exists
// on the tenant's menu.
func (im *Importer) check(ctx context.Context, m *discount.Mechanism) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Type != discount.TypeFreeItem {
		return nil
	}
	if _, err := im.catalog.GetPrice(ctx, m.TenantID, m.TargetItemID); err != nil {
		if apperr.IsNotFound(err) {
			return errors.Wrapf(discount.ErrInvalidDefinition, "target item %s not on menu", m.TargetItemID)
		}
		return &checkError{err: errors.Wrap(err, "check target item")}
	}
	return nil
}

// checkError is a lookup failure that aborts the import, as opposed to an
// invalid record.
type checkError struct{ err error }

func (e *checkError) Error() string { return e.err.Error() }
func (e *checkError) Unwrap() error { return e.err }
