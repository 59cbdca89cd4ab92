//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/order"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/storage/postgres"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "orders",
				"POSTGRES_PASSWORD": "orders",
				"POSTGRES_DB":       "orders",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = container.Terminate(context.Background()) }()

	endpoint, err := container.PortEndpoint(ctx, "5432/tcp", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres endpoint: %v\n", err)
		return 1
	}

	pool, err = postgres.NewPool(ctx, "postgres://orders:orders@"+endpoint+"/orders?sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		return 1
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	return m.Run()
}

var tenantSeq atomic.Int64

// seedTenant creates a fresh tenant with a menu and a fixed fee.
func seedTenant(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	tenant := fmt.Sprintf("tenant-%d-%d", time.Now().UnixNano(), tenantSeq.Add(1))

	_, err := pool.Exec(ctx, `INSERT INTO menu_items (tenant_id, id, name, price) VALUES
		($1, 'burger', 'Burger', 50.00), ($1, 'fries', 'Fries', 5.00)`, tenant)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO fee_configs (tenant_id, fee_type, value) VALUES ($1, 'percentage', 5)`, tenant)
	require.NoError(t, err)
	return tenant
}

func seedCoupon(t *testing.T, m discount.Mechanism) {
	t.Helper()
	require.NoError(t, m.Validate())
	n, err := postgres.NewMechanismRepository(pool, m.Kind).CopyIn(context.Background(), []discount.Mechanism{m})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func newService(t *testing.T) *order.Service {
	t.Helper()
	svc, err := order.NewService(
		postgres.NewMenuRepository(pool),
		postgres.NewFeeRepository(pool),
		postgres.NewStore(pool),
	)
	require.NoError(t, err)
	return svc
}

func TestOrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	tenant := seedTenant(t)
	seedCoupon(t, discount.Mechanism{
		ID:        "ten",
		TenantID:  tenant,
		Kind:      discount.KindCoupon,
		Code:      "TEN",
		Type:      discount.TypePercentage,
		Value:     decimal.NewFromInt(10),
		Active:    true,
		StartDate: time.Now().Add(-time.Hour),
		EndDate:   time.Now().Add(time.Hour),
	})
	svc := newService(t)

	created, err := svc.Create(ctx, order.CreateRequest{
		TenantID:      tenant,
		CustomerPhone: "+5511999990000",
		Lines: []order.LineInput{
			{MenuItemID: "burger", Quantity: 2, TagIDs: []string{"combo"},
				Customizations: []order.Customization{{Type: order.CustomizationSize, Value: "large"}}},
		},
		CouponID: "ten",
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, tenant, created.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("90.00").Equal(got.FinalTotal))
	assert.True(t, decimal.RequireFromString("5.00").Equal(got.PlatformFee))
	assert.Equal(t, "ten", got.CouponID)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, []string{"combo"}, got.Lines[0].TagIDs)
	assert.Equal(t, []order.Customization{{Type: order.CustomizationSize, Value: "large"}}, got.Lines[0].Customizations)

	_, err = pool.Exec(ctx, `UPDATE menu_items SET price = 99 WHERE tenant_id = $1 AND id = 'burger'`, tenant)
	require.NoError(t, err)

	patched, err := svc.Patch(ctx, order.PatchRequest{
		OrderID:  created.ID,
		TenantID: tenant,
		Lines: []order.LineInput{
			{ID: created.Lines[0].ID, MenuItemID: "burger", Quantity: 1},
			{MenuItemID: "fries", Quantity: 2},
		},
	})
	require.NoError(t, err)

	got, err = svc.Get(ctx, tenant, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, created.Lines[0].ID, got.Lines[0].ID)
	assert.True(t, decimal.RequireFromString("50.00").Equal(got.Lines[0].UnitPrice))
	assert.True(t, patched.FinalTotal.Equal(got.FinalTotal))
	assert.True(t, decimal.RequireFromString("3.00").Equal(got.PlatformFee))

	_, err = svc.Get(ctx, "someone-else", created.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestConcurrentCouponLimit(t *testing.T) {
	const (
		limit = 3
		extra = 7
	)
	ctx := context.Background()
	tenant := seedTenant(t)
	seedCoupon(t, discount.Mechanism{
		ID:           "limited",
		TenantID:     tenant,
		Kind:         discount.KindCoupon,
		Code:         "LIMITED",
		Type:         discount.TypeFixed,
		Value:        decimal.NewFromInt(1),
		MaxTotalUses: discount.Limit(limit),
		Active:       true,
		StartDate:    time.Now().Add(-time.Hour),
		EndDate:      time.Now().Add(time.Hour),
	})
	svc := newService(t)

	var ok, rejected atomic.Int64
	var g errgroup.Group
	for i := range limit + extra {
		g.Go(func() error {
			_, err := svc.Create(ctx, order.CreateRequest{
				TenantID:      tenant,
				CustomerPhone: fmt.Sprintf("customer-%d", i),
				Lines:         []order.LineInput{{MenuItemID: "fries", Quantity: 1}},
				CouponID:      "limited",
			})
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.RuleCode(err) == discount.CodeCouponMaxTotalUses, apperr.IsConflict(err):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, limit, ok.Load())
	assert.EqualValues(t, extra, rejected.Load())

	var usages int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM discount_usages WHERE tenant_id = $1 AND mechanism_id = 'limited'`, tenant,
	).Scan(&usages))
	assert.Equal(t, limit, usages)
}
