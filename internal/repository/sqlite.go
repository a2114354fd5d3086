package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteRepository is the reference Repository adapter. One instance per
// process; tenants share the same database file, partitioned by tenant_id
// columns rather than separate files.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens dbPath (":memory:" for tests), applies WAL and
// foreign_keys pragmas, and runs every pending goose migration embedded in
// this package before returning.
func OpenSQLite(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers across connections

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("repository: %s: %w", pragma, err)
		}
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: migrate up: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalJSON decodes a nullable JSON column into dst; an empty raw value
// leaves dst at its zero value.
func unmarshalJSON(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}

// GetPagesToCheck returns every active page for tenant with last_checked_at
// at or before now, ordered so the longest-overdue page comes first.
func (r *SQLiteRepository) GetPagesToCheck(ctx context.Context, tenant string, now time.Time) ([]wire.SourcePage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, url, page_type, last_checked_at, last_changed_at,
		       last_rendered_at, last_html_hash, last_rendered_hash,
		       consecutive_no_change, status, last_error
		FROM source_pages
		WHERE tenant_id = ? AND status = ? AND (last_checked_at IS NULL OR last_checked_at <= ?)
		ORDER BY last_checked_at ASC NULLS FIRST`,
		tenant, wire.PageActive, now)
	if err != nil {
		return nil, fmt.Errorf("repository: get pages to check: %w", err)
	}
	defer rows.Close()

	var pages []wire.SourcePage
	for rows.Next() {
		var p wire.SourcePage
		var lastChecked, lastChanged, lastRendered sql.NullTime
		var htmlHash, renderedHash, lastError sql.NullString
		if err := rows.Scan(&p.ID, &p.TenantID, &p.URL, &p.PageType, &lastChecked, &lastChanged,
			&lastRendered, &htmlHash, &renderedHash, &p.ConsecutiveNoChange, &p.Status, &lastError); err != nil {
			return nil, fmt.Errorf("repository: scan source_page: %w", err)
		}
		p.LastCheckedAt = lastChecked.Time
		p.LastChangedAt = lastChanged.Time
		p.LastRenderedAt = lastRendered.Time
		p.LastHTMLHash = htmlHash.String
		p.LastRenderedHash = renderedHash.String
		p.LastError = lastError.String
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpdatePage applies partial's scheduler-owned fields to the row identified
// by id. Columns not owned by the scheduler (url, page_type) are untouched.
func (r *SQLiteRepository) UpdatePage(ctx context.Context, id string, partial wire.SourcePage) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE source_pages SET
			last_checked_at = ?, last_changed_at = ?, last_rendered_at = ?,
			last_html_hash = ?, last_rendered_hash = ?, consecutive_no_change = ?,
			status = ?, last_error = ?
		WHERE id = ?`,
		nullTime(partial.LastCheckedAt), nullTime(partial.LastChangedAt), nullTime(partial.LastRenderedAt),
		partial.LastHTMLHash, partial.LastRenderedHash, partial.ConsecutiveNoChange,
		partial.Status, partial.LastError, id)
	if err != nil {
		return fmt.Errorf("repository: update page %s: %w", id, err)
	}
	return nil
}

// GetProductByKey returns the current product row for (tenant, externalKey),
// or ok=false if it has never been seen. The driver calls this before
// upserting so change detection compares against the prior snapshot.
func (r *SQLiteRepository) GetProductByKey(ctx context.Context, tenant, externalKey string) (wire.Product, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, source_url, external_key, title, subtitle, body_type, fuel_type,
		       availability, price_json, disclaimer, primary_image_ref, gallery_count,
		       key_features_json, ctas_json, variants_json, metadata_json, content_hash,
		       current_version, first_seen, last_seen
		FROM products WHERE tenant_id = ? AND external_key = ?`, tenant, externalKey)

	var p wire.Product
	var subtitle, bodyType, fuelType, availability, disclaimer, primaryImageRef sql.NullString
	var priceJSON, featuresJSON, ctasJSON, variantsJSON, metadataJSON, contentHash, currentVersion sql.NullString
	var firstSeen, lastSeen sql.NullTime

	err := row.Scan(&p.ID, &p.TenantID, &p.SourceURL, &p.ExternalKey, &p.Title, &subtitle, &bodyType,
		&fuelType, &availability, &priceJSON, &disclaimer, &primaryImageRef, &p.GalleryCount,
		&featuresJSON, &ctasJSON, &variantsJSON, &metadataJSON, &contentHash, &currentVersion,
		&firstSeen, &lastSeen)
	if err == sql.ErrNoRows {
		return wire.Product{}, false, nil
	}
	if err != nil {
		return wire.Product{}, false, fmt.Errorf("repository: get product %s: %w", externalKey, err)
	}

	p.Subtitle, p.BodyType, p.FuelType = subtitle.String, bodyType.String, fuelType.String
	p.Availability, p.Disclaimer, p.PrimaryImageRef = availability.String, disclaimer.String, primaryImageRef.String
	p.ContentHash, p.CurrentVersion = contentHash.String, currentVersion.String
	p.FirstSeen, p.LastSeen = firstSeen.Time, lastSeen.Time
	if err := unmarshalJSON(priceJSON, &p.Price); err != nil {
		return wire.Product{}, false, fmt.Errorf("repository: unmarshal price: %w", err)
	}
	if err := unmarshalJSON(featuresJSON, &p.KeyFeatures); err != nil {
		return wire.Product{}, false, fmt.Errorf("repository: unmarshal key_features: %w", err)
	}
	if err := unmarshalJSON(ctasJSON, &p.CallsToAction); err != nil {
		return wire.Product{}, false, fmt.Errorf("repository: unmarshal ctas: %w", err)
	}
	if err := unmarshalJSON(variantsJSON, &p.Variants); err != nil {
		return wire.Product{}, false, fmt.Errorf("repository: unmarshal variants: %w", err)
	}
	if err := unmarshalJSON(metadataJSON, &p.Metadata); err != nil {
		return wire.Product{}, false, fmt.Errorf("repository: unmarshal metadata: %w", err)
	}
	return p, true, nil
}

// UpsertProduct inserts or replaces the product row keyed by (tenant, external_key).
func (r *SQLiteRepository) UpsertProduct(ctx context.Context, p wire.Product) error {
	price, err := marshalJSON(p.Price)
	if err != nil {
		return fmt.Errorf("repository: marshal price: %w", err)
	}
	features, err := marshalJSON(p.KeyFeatures)
	if err != nil {
		return fmt.Errorf("repository: marshal key_features: %w", err)
	}
	ctas, err := marshalJSON(p.CallsToAction)
	if err != nil {
		return fmt.Errorf("repository: marshal ctas: %w", err)
	}
	variants, err := marshalJSON(p.Variants)
	if err != nil {
		return fmt.Errorf("repository: marshal variants: %w", err)
	}
	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return fmt.Errorf("repository: marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, source_url, external_key, title, subtitle, body_type,
			fuel_type, availability, price_json, disclaimer, primary_image_ref, gallery_count,
			key_features_json, ctas_json, variants_json, metadata_json, content_hash,
			current_version, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, external_key) DO UPDATE SET
			source_url = excluded.source_url, title = excluded.title, subtitle = excluded.subtitle,
			body_type = excluded.body_type, fuel_type = excluded.fuel_type,
			availability = excluded.availability, price_json = excluded.price_json,
			disclaimer = excluded.disclaimer, primary_image_ref = excluded.primary_image_ref,
			gallery_count = excluded.gallery_count, key_features_json = excluded.key_features_json,
			ctas_json = excluded.ctas_json, variants_json = excluded.variants_json,
			metadata_json = excluded.metadata_json, content_hash = excluded.content_hash,
			current_version = excluded.current_version, last_seen = excluded.last_seen`,
		p.ID, p.TenantID, p.SourceURL, p.ExternalKey, p.Title, p.Subtitle, p.BodyType,
		p.FuelType, p.Availability, price, p.Disclaimer, p.PrimaryImageRef, p.GalleryCount,
		features, ctas, variants, metadata, p.ContentHash, p.CurrentVersion, p.FirstSeen, p.LastSeen)
	if err != nil {
		return fmt.Errorf("repository: upsert product %s: %w", p.ExternalKey, err)
	}
	return nil
}

// GetOfferByKey returns the current offer row for (tenant, externalKey), or
// ok=false if it has never been seen.
func (r *SQLiteRepository) GetOfferByKey(ctx context.Context, tenant, externalKey string) (wire.Offer, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, source_url, external_key, title, description, offer_type,
		       applicable_models_json, price_json, saving_amount, valid_from, valid_to,
		       disclaimer, eligibility, content_hash, current_version, first_seen, last_seen
		FROM offers WHERE tenant_id = ? AND external_key = ?`, tenant, externalKey)

	var o wire.Offer
	var description, offerType, disclaimer, eligibility, contentHash, currentVersion sql.NullString
	var modelsJSON, priceJSON sql.NullString
	var validFrom, validTo, firstSeen, lastSeen sql.NullTime

	err := row.Scan(&o.ID, &o.TenantID, &o.SourceURL, &o.ExternalKey, &o.Title, &description, &offerType,
		&modelsJSON, &priceJSON, &o.SavingAmount, &validFrom, &validTo, &disclaimer, &eligibility,
		&contentHash, &currentVersion, &firstSeen, &lastSeen)
	if err == sql.ErrNoRows {
		return wire.Offer{}, false, nil
	}
	if err != nil {
		return wire.Offer{}, false, fmt.Errorf("repository: get offer %s: %w", externalKey, err)
	}

	o.Description, o.OfferType = description.String, offerType.String
	o.Disclaimer, o.Eligibility = disclaimer.String, eligibility.String
	o.ContentHash, o.CurrentVersion = contentHash.String, currentVersion.String
	o.ValidFrom, o.ValidTo = validFrom.Time, validTo.Time
	o.FirstSeen, o.LastSeen = firstSeen.Time, lastSeen.Time
	if err := unmarshalJSON(modelsJSON, &o.ApplicableModels); err != nil {
		return wire.Offer{}, false, fmt.Errorf("repository: unmarshal applicable_models: %w", err)
	}
	if err := unmarshalJSON(priceJSON, &o.Price); err != nil {
		return wire.Offer{}, false, fmt.Errorf("repository: unmarshal price: %w", err)
	}
	return o, true, nil
}

// UpsertOffer inserts or replaces the offer row keyed by (tenant, external_key).
func (r *SQLiteRepository) UpsertOffer(ctx context.Context, o wire.Offer) error {
	price, err := marshalJSON(o.Price)
	if err != nil {
		return fmt.Errorf("repository: marshal price: %w", err)
	}
	models, err := marshalJSON(o.ApplicableModels)
	if err != nil {
		return fmt.Errorf("repository: marshal applicable_models: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO offers (id, tenant_id, source_url, external_key, title, description, offer_type,
			applicable_models_json, price_json, saving_amount, valid_from, valid_to, disclaimer,
			eligibility, content_hash, current_version, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, external_key) DO UPDATE SET
			source_url = excluded.source_url, title = excluded.title, description = excluded.description,
			offer_type = excluded.offer_type, applicable_models_json = excluded.applicable_models_json,
			price_json = excluded.price_json, saving_amount = excluded.saving_amount,
			valid_from = excluded.valid_from, valid_to = excluded.valid_to,
			disclaimer = excluded.disclaimer, eligibility = excluded.eligibility,
			content_hash = excluded.content_hash, current_version = excluded.current_version,
			last_seen = excluded.last_seen`,
		o.ID, o.TenantID, o.SourceURL, o.ExternalKey, o.Title, o.Description, o.OfferType,
		models, price, o.SavingAmount, nullTime(o.ValidFrom), nullTime(o.ValidTo), o.Disclaimer,
		o.Eligibility, o.ContentHash, o.CurrentVersion, o.FirstSeen, o.LastSeen)
	if err != nil {
		return fmt.Errorf("repository: upsert offer %s: %w", o.ExternalKey, err)
	}
	return nil
}

// GetBannerByPosition returns the current banner row for (tenant, pageURL,
// position), or ok=false if it has never been seen.
func (r *SQLiteRepository) GetBannerByPosition(ctx context.Context, tenant, pageURL string, position int) (wire.Banner, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, page_url, position, headline, subheadline, cta_json,
		       desktop_image, mobile_image, image_hash, disclaimer, content_hash,
		       current_version, first_seen, last_seen
		FROM banners WHERE tenant_id = ? AND page_url = ? AND position = ?`, tenant, pageURL, position)

	var b wire.Banner
	var headline, subheadline, desktopImage, mobileImage, imageHash, disclaimer, contentHash, currentVersion sql.NullString
	var ctaJSON sql.NullString
	var firstSeen, lastSeen sql.NullTime

	err := row.Scan(&b.ID, &b.TenantID, &b.PageURL, &b.Position, &headline, &subheadline, &ctaJSON,
		&desktopImage, &mobileImage, &imageHash, &disclaimer, &contentHash, &currentVersion,
		&firstSeen, &lastSeen)
	if err == sql.ErrNoRows {
		return wire.Banner{}, false, nil
	}
	if err != nil {
		return wire.Banner{}, false, fmt.Errorf("repository: get banner %s/%d: %w", pageURL, position, err)
	}

	b.Headline, b.Subheadline = headline.String, subheadline.String
	b.DesktopImage, b.MobileImage, b.ImageHash = desktopImage.String, mobileImage.String, imageHash.String
	b.Disclaimer, b.ContentHash, b.CurrentVersion = disclaimer.String, contentHash.String, currentVersion.String
	b.FirstSeen, b.LastSeen = firstSeen.Time, lastSeen.Time
	if err := unmarshalJSON(ctaJSON, &b.CTA); err != nil {
		return wire.Banner{}, false, fmt.Errorf("repository: unmarshal cta: %w", err)
	}
	return b, true, nil
}

// UpsertBanner inserts or replaces the banner row keyed by (tenant, page_url, position).
func (r *SQLiteRepository) UpsertBanner(ctx context.Context, b wire.Banner) error {
	cta, err := marshalJSON(b.CTA)
	if err != nil {
		return fmt.Errorf("repository: marshal cta: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO banners (id, tenant_id, page_url, position, headline, subheadline, cta_json,
			desktop_image, mobile_image, image_hash, disclaimer, content_hash, current_version,
			first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, page_url, position) DO UPDATE SET
			headline = excluded.headline, subheadline = excluded.subheadline, cta_json = excluded.cta_json,
			desktop_image = excluded.desktop_image, mobile_image = excluded.mobile_image,
			image_hash = excluded.image_hash, disclaimer = excluded.disclaimer,
			content_hash = excluded.content_hash, current_version = excluded.current_version,
			last_seen = excluded.last_seen`,
		b.ID, b.TenantID, b.PageURL, b.Position, b.Headline, b.Subheadline, cta,
		b.DesktopImage, b.MobileImage, b.ImageHash, b.Disclaimer, b.ContentHash, b.CurrentVersion,
		b.FirstSeen, b.LastSeen)
	if err != nil {
		return fmt.Errorf("repository: upsert banner %s/%d: %w", b.PageURL, b.Position, err)
	}
	return nil
}

// InsertVersion appends a new version row; versions are never updated or deleted.
func (r *SQLiteRepository) InsertVersion(ctx context.Context, v wire.Version) error {
	changedFields, err := marshalJSON(v.ChangedFields)
	if err != nil {
		return fmt.Errorf("repository: marshal changed_fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO versions (id, entity_type, entity_id, import_run_id, content_hash, snapshot,
			diff_summary, changed_fields_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.EntityType, v.EntityID, v.ImportRunID, v.ContentHash, v.Snapshot,
		v.DiffSummary, changedFields, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: insert version for %s: %w", v.EntityID, err)
	}
	return nil
}

// InsertChangeEvent appends a new change_events row; rows are never updated.
// The driver sets NotifiedChannel, and NotifiedAt once an immediate post has
// succeeded, before calling this.
func (r *SQLiteRepository) InsertChangeEvent(ctx context.Context, e wire.ChangeEvent) error {
	diff, err := marshalJSON(e.Diff)
	if err != nil {
		return fmt.Errorf("repository: marshal diff: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO change_events (id, tenant_id, import_run_id, entity_type, entity_id, event_type,
			severity, summary, diff_json, notified_at, notified_channel)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.ImportRunID, e.EntityType, e.EntityID, e.EventType,
		e.Severity, e.Summary, diff, nullTime(e.NotifiedAt), e.NotifiedChannel)
	if err != nil {
		return fmt.Errorf("repository: insert change_event for %s: %w", e.EntityID, err)
	}
	return nil
}

// GetRenderCounts returns the number of pages rendered for tenant this month
// (tenantCount) and across every tenant this month (globalCount), used by
// the scheduler's render budget check.
func (r *SQLiteRepository) GetRenderCounts(ctx context.Context, tenant string, month time.Time) (int, int, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	end := start.AddDate(0, 1, 0)

	var tenantCount int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM source_pages
		WHERE tenant_id = ? AND last_rendered_at >= ? AND last_rendered_at < ?`,
		tenant, start, end).Scan(&tenantCount); err != nil {
		return 0, 0, fmt.Errorf("repository: tenant render count: %w", err)
	}

	var globalCount int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM source_pages
		WHERE last_rendered_at >= ? AND last_rendered_at < ?`,
		start, end).Scan(&globalCount); err != nil {
		return 0, 0, fmt.Errorf("repository: global render count: %w", err)
	}

	return tenantCount, globalCount, nil
}

// InsertImportRun creates the row for a new scheduler pass, with whatever
// status the caller sets.
func (r *SQLiteRepository) InsertImportRun(ctx context.Context, run wire.ImportRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO import_runs (id, tenant_id, started_at, finished_at, status, pages_checked,
			pages_changed, pages_errored, entities_upserted, error_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TenantID, run.StartedAt, nullTime(run.FinishedAt), run.Status,
		run.PagesChecked, run.PagesChanged, run.PagesErrored, run.EntitiesUpserted, run.ErrorJSON)
	if err != nil {
		return fmt.Errorf("repository: insert import_run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateImportRun overwrites the terminal fields of an existing import_runs row.
func (r *SQLiteRepository) UpdateImportRun(ctx context.Context, run wire.ImportRun) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE import_runs SET
			finished_at = ?, status = ?, pages_checked = ?, pages_changed = ?,
			pages_errored = ?, entities_upserted = ?, error_json = ?
		WHERE id = ?`,
		nullTime(run.FinishedAt), run.Status, run.PagesChecked, run.PagesChanged,
		run.PagesErrored, run.EntitiesUpserted, run.ErrorJSON, run.ID)
	if err != nil {
		return fmt.Errorf("repository: update import_run %s: %w", run.ID, err)
	}
	return nil
}

var _ Repository = (*SQLiteRepository)(nil)
