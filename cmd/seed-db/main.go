// Command seed-db loads a demo tenant: its menu, fee configuration and a
// few discount definitions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/fee"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/menu"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/storage/postgres"
)

type tenantJSON struct {
	TenantID string `json:"tenant_id"`
	Fee      struct {
		Type  string          `json:"type"`
		Value decimal.Decimal `json:"value"`
	} `json:"fee"`
	Menu []struct {
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Price decimal.Decimal `json:"price"`
	} `json:"menu"`
	Coupons    []mechanismJSON `json:"coupons"`
	Promotions []mechanismJSON `json:"promotions"`
}

type mechanismJSON struct {
	ID                 string              `json:"id"`
	Code               string              `json:"code"`
	Type               string              `json:"type"`
	Value              decimal.Decimal     `json:"value"`
	TargetItemID       string              `json:"target_item_id"`
	MinOrderValue      decimal.NullDecimal `json:"min_order_value"`
	MaxTotalUses       *int                `json:"max_total_uses"`
	MaxUsesPerCustomer *int                `json:"max_uses_per_customer"`
}

func main() {
	var (
		databaseURL string
		tenantFile  string
		validFor    time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&tenantFile, "tenant-file", "db/seed/tenant.json", "path to tenant seed JSON file")
	flag.DurationVar(&validFor, "valid-for", 365*24*time.Hour, "validity window of seeded discounts, starting now")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, databaseURL, tenantFile, validFor); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, databaseURL, tenantFile string, validFor time.Duration) error {
	data, err := os.ReadFile(tenantFile)
	if err != nil {
		return errors.Wrap(err, "read tenant file")
	}
	var seed tenantJSON
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse tenant JSON")
	}
	if seed.TenantID == "" {
		return errors.New("tenant_id is required")
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	lg := zctx.From(ctx).With(zap.String("tenant_id", seed.TenantID))

	menuRepo := postgres.NewMenuRepository(pool)
	for _, it := range seed.Menu {
		if err := menuRepo.Upsert(ctx, seed.TenantID, menu.Item{ID: it.ID, Name: it.Name, Price: it.Price}); err != nil {
			return err
		}
	}
	lg.Info("Upserted menu", zap.Int("items", len(seed.Menu)))

	cfg := fee.Config{Type: fee.Type(seed.Fee.Type), Value: seed.Fee.Value}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "fee config")
	}
	if err := postgres.NewFeeRepository(pool).SetFeeConfig(ctx, seed.TenantID, cfg); err != nil {
		return err
	}
	lg.Info("Set fee config", zap.String("type", seed.Fee.Type), zap.String("value", seed.Fee.Value.String()))

	start := time.Now().UTC()
	for kind, defs := range map[discount.Kind][]mechanismJSON{
		discount.KindCoupon:    seed.Coupons,
		discount.KindPromotion: seed.Promotions,
	} {
		repo := postgres.NewMechanismRepository(pool, kind)
		var fresh []discount.Mechanism
		for _, d := range defs {
			m := discount.Mechanism{
				ID:                 d.ID,
				TenantID:           seed.TenantID,
				Kind:               kind,
				Code:               d.Code,
				Type:               discount.Type(d.Type),
				Value:              d.Value,
				TargetItemID:       d.TargetItemID,
				MinOrderValue:      d.MinOrderValue,
				MaxTotalUses:       d.MaxTotalUses,
				MaxUsesPerCustomer: d.MaxUsesPerCustomer,
				Active:             true,
				StartDate:          start,
				EndDate:            start.Add(validFor),
			}
			if err := m.Validate(); err != nil {
				return errors.Wrapf(err, "%s %s", kind, d.ID)
			}
			if m.Type == discount.TypeFreeItem {
				if _, err := menuRepo.GetPrice(ctx, seed.TenantID, m.TargetItemID); err != nil {
					return errors.Wrapf(err, "%s %s target", kind, d.ID)
				}
			}
			exists, err := repo.Exists(ctx, seed.TenantID, m.ID)
			if err != nil {
				return err
			}
			if exists {
				lg.Info("Skipping existing definition", zap.String("kind", string(kind)), zap.String("id", m.ID))
				continue
			}
			fresh = append(fresh, m)
		}
		if len(fresh) == 0 {
			continue
		}
		n, err := repo.CopyIn(ctx, fresh)
		if err != nil {
			return err
		}
		lg.Info("Inserted definitions", zap.String("kind", string(kind)), zap.Int64("count", n))
	}
	return nil
}
