package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestOpenSQLite_MigratesCleanDatabase(t *testing.T) {
	repo := openTestRepo(t)
	var count int
	err := repo.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM source_pages").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUpsertProduct_ConflictUpdatesInPlace(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	p := wire.Product{
		ID: "p1", TenantID: "oem-a", SourceURL: "https://oem-a.example/x", ExternalKey: "model-x",
		Title: "Model X", Price: wire.Price{Amount: 30000, Currency: "USD"},
		FirstSeen: time.Now(), LastSeen: time.Now(),
	}
	require.NoError(t, repo.UpsertProduct(ctx, p))

	p.Title = "Model X Updated"
	p.Price.Amount = 29990
	require.NoError(t, repo.UpsertProduct(ctx, p))

	var title string
	var amount float64
	err := repo.db.QueryRowContext(ctx, "SELECT title, json_extract(price_json, '$.Amount') FROM products WHERE external_key = ?", "model-x").
		Scan(&title, &amount)
	require.NoError(t, err)
	assert.Equal(t, "Model X Updated", title)
	assert.Equal(t, 29990.0, amount)

	var rowCount int
	require.NoError(t, repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&rowCount))
	assert.Equal(t, 1, rowCount)
}

func TestGetProductByKey_RoundTripsAfterUpsert(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	_, found, err := repo.GetProductByKey(ctx, "oem-a", "model-x")
	require.NoError(t, err)
	assert.False(t, found)

	now := time.Now().Truncate(time.Second)
	p := wire.Product{
		ID: "p1", TenantID: "oem-a", SourceURL: "https://oem-a.example/x", ExternalKey: "model-x",
		Title: "Model X", Price: wire.Price{Amount: 30000, Currency: "USD"},
		KeyFeatures: []string{"awd", "heated seats"}, FirstSeen: now, LastSeen: now,
	}
	require.NoError(t, repo.UpsertProduct(ctx, p))

	got, found, err := repo.GetProductByKey(ctx, "oem-a", "model-x")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Model X", got.Title)
	assert.Equal(t, 30000.0, got.Price.Amount)
	assert.Equal(t, []string{"awd", "heated seats"}, got.KeyFeatures)
}

func TestGetOfferByKey_RoundTripsAfterUpsert(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertOffer(ctx, wire.Offer{
		ID: "o1", TenantID: "oem-a", ExternalKey: "lease-special", Title: "Lease Special",
		Disclaimer: "Subject to status.",
	}))

	got, found, err := repo.GetOfferByKey(ctx, "oem-a", "lease-special")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Lease Special", got.Title)
	assert.Equal(t, "Subject to status.", got.Disclaimer)

	_, found, err = repo.GetOfferByKey(ctx, "oem-b", "lease-special")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetBannerByPosition_RoundTripsAfterUpsert(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBanner(ctx, wire.Banner{
		ID: "b1", TenantID: "oem-a", PageURL: "https://oem-a.example/", Position: 0,
		Headline: "Summer Sale", CTA: wire.CTA{Text: "Shop now", URL: "https://oem-a.example/offers"},
	}))

	got, found, err := repo.GetBannerByPosition(ctx, "oem-a", "https://oem-a.example/", 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Summer Sale", got.Headline)
	assert.Equal(t, "Shop now", got.CTA.Text)

	_, found, err = repo.GetBannerByPosition(ctx, "oem-a", "https://oem-a.example/", 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpsertOffer_DistinctTenantsDoNotCollide(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	o1 := wire.Offer{ID: "o1", TenantID: "oem-a", ExternalKey: "lease-special", Title: "Lease Special"}
	o2 := wire.Offer{ID: "o2", TenantID: "oem-b", ExternalKey: "lease-special", Title: "Lease Special B"}
	require.NoError(t, repo.UpsertOffer(ctx, o1))
	require.NoError(t, repo.UpsertOffer(ctx, o2))

	var rowCount int
	require.NoError(t, repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM offers").Scan(&rowCount))
	assert.Equal(t, 2, rowCount)
}

func TestGetPagesToCheck_OnlyReturnsActiveDuePages(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO source_pages (id, tenant_id, url, page_type, last_checked_at, status)
		VALUES
			('due', 'oem-a', 'https://a/due', 'offers', ?, 'active'),
			('future', 'oem-a', 'https://a/future', 'offers', ?, 'active'),
			('blocked', 'oem-a', 'https://a/blocked', 'offers', ?, 'blocked'),
			('never-checked', 'oem-a', 'https://a/new', 'offers', NULL, 'active')`,
		now.Add(-time.Hour), now.Add(time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)

	pages, err := repo.GetPagesToCheck(ctx, "oem-a", now)
	require.NoError(t, err)

	var ids []string
	for _, p := range pages {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"due", "never-checked"}, ids)
}

func TestUpdatePage_PersistsSchedulerOwnedFields(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO source_pages (id, tenant_id, url, page_type, status) VALUES ('p1', 'oem-a', 'https://a/1', 'offers', 'active')`)
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, repo.UpdatePage(ctx, "p1", wire.SourcePage{
		LastCheckedAt: now, LastHTMLHash: "abc123", ConsecutiveNoChange: 2, Status: wire.PageActive,
	}))

	pages, err := repo.GetPagesToCheck(ctx, "oem-a", now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "abc123", pages[0].LastHTMLHash)
	assert.Equal(t, 2, pages[0].ConsecutiveNoChange)
}

func TestInsertVersionAndChangeEvent_RoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.InsertVersion(ctx, wire.Version{
		ID: "v1", EntityType: wire.EntityProduct, EntityID: "p1", ContentHash: "h1",
		ChangedFields: []string{"price_amount"}, CreatedAt: now,
	}))
	require.NoError(t, repo.InsertChangeEvent(ctx, wire.ChangeEvent{
		ID: "ce1", TenantID: "oem-a", EntityType: wire.EntityProduct, EntityID: "p1",
		EventType: wire.EventPriceChanged, Severity: wire.SeverityCritical,
		Diff: []wire.FieldDiff{{Field: "price_amount", OldValue: 30000, NewValue: 29990, IsMeaningful: true}},
	}))

	var count int
	require.NoError(t, repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM versions").Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM change_events").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestGetRenderCounts_ScopesToMonthAndTenant(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	month := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO source_pages (id, tenant_id, url, page_type, status, last_rendered_at)
		VALUES
			('a1', 'oem-a', 'https://a/1', 'offers', 'active', ?),
			('a2', 'oem-a', 'https://a/2', 'offers', 'active', ?),
			('b1', 'oem-b', 'https://b/1', 'offers', 'active', ?)`,
		month, month.AddDate(0, -1, 0), month)
	require.NoError(t, err)

	tenantCount, globalCount, err := repo.GetRenderCounts(ctx, "oem-a", month)
	require.NoError(t, err)
	assert.Equal(t, 1, tenantCount)
	assert.Equal(t, 2, globalCount)
}

func TestImportRun_InsertThenUpdateTerminalStatus(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertImportRun(ctx, wire.ImportRun{
		ID: "run1", TenantID: "oem-a", StartedAt: time.Now(), Status: wire.ImportRunning,
	}))
	require.NoError(t, repo.UpdateImportRun(ctx, wire.ImportRun{
		ID: "run1", FinishedAt: time.Now(), Status: wire.ImportCompleted,
		PagesChecked: 10, PagesChanged: 2,
	}))

	var status string
	var pagesChecked int
	require.NoError(t, repo.db.QueryRowContext(ctx, "SELECT status, pages_checked FROM import_runs WHERE id = ?", "run1").
		Scan(&status, &pagesChecked))
	assert.Equal(t, string(wire.ImportCompleted), status)
	assert.Equal(t, 10, pagesChecked)
}
