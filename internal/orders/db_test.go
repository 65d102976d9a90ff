package orders

import (
	"context"
	"testing"
	"time"

	"github.com/fieldops/hnsync/internal/kv"
	"github.com/fieldops/hnsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fetched(id, date string) *models.Order {
	o := models.NewStub(id)
	_ = o.Promote(models.ParsedOrder{Address: "1 Main St", ConfirmScheduleDate: date, Type: models.JobRepair}, time.Unix(0, 0))
	return o
}

func TestLoadSave_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	db, err := Load(ctx, store, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, db.Len())

	db.Merge([]string{"2", "1"})
	db.Orders["3"] = fetched("3", "12/10/2025")
	require.NoError(t, db.Save(ctx, store, "u1"))

	again, err := Load(ctx, store, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Len())
	o, ok := again.Get("1")
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, o.Status)
	assert.Equal(t, "1 Main St", again.Orders["3"].Address)
}

func TestLoad_LegacyStatusless(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Put(ctx, kv.OrderDBKey("u1"), `{"42":{"id":"42"},"7":null}`, 0))

	db, err := Load(ctx, store, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, db.Len())
	assert.Equal(t, models.StatusPending, db.Orders["42"].Status)

	require.NoError(t, store.Put(ctx, kv.OrderDBKey("u1"), `not json`, 0))
	_, err = Load(ctx, store, "u1")
	assert.Error(t, err)
}

func TestMerge_KeepsExisting(t *testing.T) {
	db := New()
	db.Orders["1"] = fetched("1", "12/10/2025")

	assert.Equal(t, 1, db.Merge([]string{"1", "2", "2", ""}))
	assert.Equal(t, models.StatusFetched, db.Orders["1"].Status)
	assert.Equal(t, models.StatusPending, db.Orders["2"].Status)
}

func TestPrune_ProtectsDepartureIncomplete(t *testing.T) {
	db := New()
	db.Merge([]string{"keep", "gone"})
	protected := fetched("busy", "12/10/2025")
	protected.DepartureIncomplete = true
	db.Orders["busy"] = protected

	found := map[string]bool{"keep": true}
	removed := db.Prune(func(id string) bool { return found[id] })

	assert.Equal(t, []string{"gone"}, removed)
	assert.Contains(t, db.Orders, "keep")
	assert.Contains(t, db.Orders, "busy")
}

func TestPending_Ordering(t *testing.T) {
	db := New()
	db.Merge([]string{"b", "a"})
	db.Orders["c"] = fetched("c", "12/10/2025")
	db.Orders["b"].Fail(assert.AnError)

	ids := []string{}
	for _, o := range db.Pending() {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestByDate(t *testing.T) {
	db := New()
	db.Orders["1"] = fetched("1", "12/10/2025")
	db.Orders["2"] = fetched("2", "2025-12-10")
	db.Orders["3"] = fetched("3", "1/7/26")
	db.Orders["4"] = fetched("4", "someday")
	db.Merge([]string{"5"})

	groups := db.ByDate()
	assert.Len(t, groups, 2)
	assert.Len(t, groups["2025-12-10"], 2)
	assert.Len(t, groups["2026-01-07"], 1)
}

func TestNormalizeDate(t *testing.T) {
	tests := map[string]string{
		"12/10/2025":       "2025-12-10",
		" 1/2/2026 ":       "2026-01-02",
		"2026-03-04":       "2026-03-04",
		"Mar 4, 2026":      "2026-03-04",
		"Wed, Mar 4, 2026": "2026-03-04",
	}
	for raw, want := range tests {
		got, ok := NormalizeDate(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := NormalizeDate("13/45/2025")
	assert.False(t, ok)
}
