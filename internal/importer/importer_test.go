package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/apperr"
	"github.com/Karbash/Prometheus-Hephaestus-sub001/internal/domain/discount"
)

// --- Mock implementations ---

type mockStore struct {
	existing [][2]string
	copied   []discount.Mechanism
	exists   int
	copyErr  error
}

func (m *mockStore) IDs(_ context.Context, fn func(tenantID, id string)) error {
	for _, e := range m.existing {
		fn(e[0], e[1])
	}
	return nil
}

func (m *mockStore) Exists(_ context.Context, tenantID, id string) (bool, error) {
	m.exists++
	for _, e := range m.existing {
		if e == [2]string{tenantID, id} {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) CopyIn(_ context.Context, ms []discount.Mechanism) (int64, error) {
	if m.copyErr != nil {
		return 0, m.copyErr
	}
	m.copied = append(m.copied, ms...)
	return int64(len(ms)), nil
}

type mockCatalog struct {
	items map[string]bool
	err   error
}

func (m *mockCatalog) GetPrice(_ context.Context, tenantID, menuItemID string) (decimal.Decimal, error) {
	if m.err != nil {
		return decimal.Zero, m.err
	}
	if !m.items[tenantID+"/"+menuItemID] {
		return decimal.Zero, apperr.NotFound(apperr.EntityMenuItem, tenantID, menuItemID)
	}
	return decimal.NewFromInt(10), nil
}

// --- Helpers ---

const window = `"active":true,"start_date":"2025-01-01T00:00:00Z","end_date":"2025-12-31T23:59:59Z"`

func record(kind, tenant, id, typ string, extra ...string) string {
	fields := []string{
		`"kind":"` + kind + `"`,
		`"tenant_id":"` + tenant + `"`,
		`"id":"` + id + `"`,
		`"type":"` + typ + `"`,
		`"value":"10"`,
		window,
	}
	return "{" + strings.Join(append(fields, extra...), ",") + "}"
}

func writeGz(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "defs.jsonl.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

// --- Tests ---

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{
		"kind": "promotion", "id": "p1", "tenant_id": "t1", "code": "SUMMER",
		"type": "fixed", "value": 7.5, "target_item_id": null, "min_order_value": "30",
		"max_total_uses": 100, "max_uses_per_customer": null, "active": true,
		"start_date": "2025-06-01T00:00:00Z", "end_date": "2025-08-31T23:59:59Z",
		"comment": {"ignored": [1, 2]}
	}`))
	require.NoError(t, err)

	assert.Equal(t, discount.KindPromotion, m.Kind)
	assert.Equal(t, "p1", m.ID)
	assert.Equal(t, "t1", m.TenantID)
	assert.Equal(t, "SUMMER", m.Code)
	assert.Equal(t, discount.TypeFixed, m.Type)
	assert.True(t, decimal.RequireFromString("7.5").Equal(m.Value))
	assert.Empty(t, m.TargetItemID)
	require.True(t, m.MinOrderValue.Valid)
	assert.True(t, decimal.NewFromInt(30).Equal(m.MinOrderValue.Decimal))
	require.NotNil(t, m.MaxTotalUses)
	assert.Equal(t, 100, *m.MaxTotalUses)
	assert.Nil(t, m.MaxUsesPerCustomer)
	assert.True(t, m.Active)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), m.StartDate)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `kind=coupon`},
		{"bad value", `{"value": "ten"}`},
		{"negative limit", `{"max_total_uses": -1}`},
		{"bad date", `{"start_date": "yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.line))
			require.Error(t, err)
		})
	}
}

func TestRun(t *testing.T) {
	coupons := &mockStore{existing: [][2]string{{"t1", "old"}}}
	promotions := &mockStore{}
	catalog := &mockCatalog{items: map[string]bool{"t1/burger": true}}
	im := New(coupons, promotions, catalog)

	first := writeGz(t,
		record("coupon", "t1", "old", "percentage"),
		record("coupon", "t1", "new", "percentage"),
		record("coupon", "t2", "old", "fixed"),
		"",
		record("promotion", "t1", "free-burger", "free_item", `"target_item_id":"burger"`),
		record("promotion", "t1", "free-pizza", "free_item", `"target_item_id":"pizza"`),
		`{"broken"`,
	)
	second := writeGz(t,
		record("coupon", "t1", "new", "percentage"),
		record("coupon", "t1", "too-much", "percentage", `"value":"150"`),
		record("raffle", "t1", "r1", "fixed"),
	)

	stats, err := im.Run(context.Background(), []string{first, second})
	require.NoError(t, err)

	assert.Equal(t, Stats{Read: 9, Invalid: 4, Skipped: 2, Inserted: 3}, stats)

	var ids []string
	for _, m := range coupons.copied {
		ids = append(ids, m.TenantID+"/"+m.ID)
	}
	assert.ElementsMatch(t, []string{"t1/new", "t2/old"}, ids)
	require.Len(t, promotions.copied, 1)
	assert.Equal(t, "free-burger", promotions.copied[0].ID)
}

func TestRun_Batches(t *testing.T) {
	coupons := &mockStore{}
	im := New(coupons, &mockStore{}, &mockCatalog{})
	im.batchSize = 2

	var lines []string
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		lines = append(lines, record("coupon", "t1", id, "fixed"))
	}
	stats, err := im.Run(context.Background(), []string{writeGz(t, lines...)})
	require.NoError(t, err)
	assert.EqualValues(t, 5, stats.Inserted)
	assert.Len(t, coupons.copied, 5)
}

func TestRun_StorageErrorsAbort(t *testing.T) {
	t.Run("copy", func(t *testing.T) {
		im := New(&mockStore{copyErr: errors.New("disk full")}, &mockStore{}, &mockCatalog{})
		_, err := im.Run(context.Background(), []string{writeGz(t, record("coupon", "t1", "a", "fixed"))})
		require.Error(t, err)
	})
	t.Run("catalog", func(t *testing.T) {
		im := New(&mockStore{}, &mockStore{}, &mockCatalog{err: errors.New("connection reset")})
		_, err := im.Run(context.Background(), []string{
			writeGz(t, record("promotion", "t1", "p", "free_item", `"target_item_id":"burger"`)),
		})
		require.Error(t, err)
	})
	t.Run("missing file", func(t *testing.T) {
		im := New(&mockStore{}, &mockStore{}, &mockCatalog{})
		_, err := im.Run(context.Background(), []string{filepath.Join(t.TempDir(), "nope.gz")})
		require.Error(t, err)
	})
}
