// Package repository defines the relational-store interface the driver
// persists through, and a SQLite reference adapter.
package repository

import (
	"context"
	"time"

	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

// Repository is the external interface (spec §6). Implementations must
// enforce uniqueness on (tenant, url) for SourcePage and (tenant,
// external_key) for Product/Offer.
type Repository interface {
	GetPagesToCheck(ctx context.Context, tenant string, now time.Time) ([]wire.SourcePage, error)
	UpdatePage(ctx context.Context, id string, partial wire.SourcePage) error
	GetProductByKey(ctx context.Context, tenant, externalKey string) (wire.Product, bool, error)
	GetOfferByKey(ctx context.Context, tenant, externalKey string) (wire.Offer, bool, error)
	GetBannerByPosition(ctx context.Context, tenant, pageURL string, position int) (wire.Banner, bool, error)
	UpsertProduct(ctx context.Context, p wire.Product) error
	UpsertOffer(ctx context.Context, o wire.Offer) error
	UpsertBanner(ctx context.Context, b wire.Banner) error
	InsertVersion(ctx context.Context, v wire.Version) error
	InsertChangeEvent(ctx context.Context, e wire.ChangeEvent) error
	GetRenderCounts(ctx context.Context, tenant string, month time.Time) (tenantCount, globalCount int, err error)
	InsertImportRun(ctx context.Context, r wire.ImportRun) error
	UpdateImportRun(ctx context.Context, r wire.ImportRun) error
}
