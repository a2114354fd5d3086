// Package wire holds the persisted entity shapes and wire payloads shared
// across the scheduler, extractor, change detector, and repository. Nothing
// in this package owns behavior beyond small derived helpers; mutation
// ownership lives with the component named in each type's doc comment (see
// DESIGN.md's data-model section).
package wire

import "time"

// PageStatus is the lifecycle state of a SourcePage.
type PageStatus string

const (
	PageActive  PageStatus = "active"
	PageRemoved PageStatus = "removed"
	PageError   PageStatus = "error"
	PageBlocked PageStatus = "blocked"
)

// PageType tags a SourcePage with the schedule bucket it belongs to.
type PageType string

const (
	PageHomepage   PageType = "homepage"
	PageOffers     PageType = "offers"
	PageVehicle    PageType = "vehicle"
	PageNews       PageType = "news"
	PageSitemap    PageType = "sitemap"
	PagePriceGuide PageType = "price_guide"
	PageCategory   PageType = "category"
	PageBuildPrice PageType = "build_price"
	PageOther      PageType = "other"
)

// SourcePage is owned by the Scheduler: it is the only component that
// mutates check/render timestamps and the no-change counter.
type SourcePage struct {
	ID                 string
	TenantID           string
	URL                string
	PageType           PageType
	LastCheckedAt      time.Time
	LastChangedAt      time.Time
	LastRenderedAt     time.Time
	LastHTMLHash       string
	LastRenderedHash   string
	ConsecutiveNoChange int
	Status             PageStatus
	LastError          string
}

// Price is a recurring shape inside Product/Offer rows.
type Price struct {
	Amount    float64
	Currency  string
	WasAmount float64 // zero if no strike-through price
}

// CTA is a call-to-action button shape shared by Product/Banner.
type CTA struct {
	Text string
	URL  string
}

// Variant is one Product trim/engine/drivetrain combination.
type Variant struct {
	Name       string
	Price      Price
	Drivetrain string
	Engine     string
}

// Product is owned by the extraction pipeline (upserted by the driver after
// extraction); its Version history is owned by the ChangeDetector.
type Product struct {
	ID              string
	TenantID        string
	SourceURL       string
	ExternalKey     string
	Title           string
	Subtitle        string
	BodyType        string
	FuelType        string
	Availability    string
	Price           Price
	Disclaimer      string
	PrimaryImageRef string
	GalleryCount    int
	KeyFeatures     []string
	CallsToAction   []CTA
	Variants        []Variant
	Metadata        map[string]string
	ContentHash     string
	CurrentVersion  string
	FirstSeen       time.Time
	LastSeen        time.Time
}

// Offer mirrors Product's lifecycle for promotional-offer entities.
type Offer struct {
	ID              string
	TenantID        string
	SourceURL       string
	ExternalKey     string
	Title           string
	Description     string
	OfferType       string
	ApplicableModels []string
	Price           Price
	SavingAmount    float64
	ValidFrom       time.Time
	ValidTo         time.Time
	Disclaimer      string
	Eligibility     string
	ContentHash     string
	CurrentVersion  string
	FirstSeen       time.Time
	LastSeen        time.Time
}

// Banner is a promotional hero/carousel slot.
type Banner struct {
	ID             string
	TenantID       string
	PageURL        string
	Position       int
	Headline       string
	Subheadline    string
	CTA            CTA
	DesktopImage   string
	MobileImage    string
	ImageHash      string
	Disclaimer     string
	ContentHash    string
	CurrentVersion string
	FirstSeen      time.Time
	LastSeen       time.Time
}

// EntityType tags which table a Version/ChangeEvent belongs to.
type EntityType string

const (
	EntityProduct EntityType = "product"
	EntityOffer   EntityType = "offer"
	EntityBanner  EntityType = "banner"
)

// Version is append-only: created by the ChangeDetector iff the content hash
// differs from the entity's current version.
type Version struct {
	ID             string
	EntityType     EntityType
	EntityID       string
	ImportRunID    string
	ContentHash    string
	Snapshot       []byte // full JSON snapshot of the entity at this version
	DiffSummary    string
	ChangedFields  []string
	CreatedAt      time.Time
}

// ImportRunStatus is the terminal or in-flight state of a scheduler pass.
type ImportRunStatus string

const (
	ImportRunning   ImportRunStatus = "running"
	ImportCompleted ImportRunStatus = "completed"
	ImportFailed    ImportRunStatus = "failed"
	ImportPartial   ImportRunStatus = "partial"
)

// ImportRun aggregates one scheduler pass over a tenant's pages.
type ImportRun struct {
	ID             string
	TenantID       string
	StartedAt      time.Time
	FinishedAt     time.Time
	Status         ImportRunStatus
	PagesChecked   int
	PagesChanged   int
	PagesErrored   int
	EntitiesUpserted int
	ErrorJSON      string
}

// Severity is the ChangeEvent classification used for alert routing.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AlertChannel is the routing destination for a ChangeEvent.
type AlertChannel string

const (
	ChannelSlackImmediate   AlertChannel = "slack_immediate"
	ChannelSlackBatchHourly AlertChannel = "slack_batch_hourly"
	ChannelSlackBatchDaily  AlertChannel = "slack_batch_daily"
	ChannelEmail            AlertChannel = "email"
)

// EventType names what kind of change a ChangeEvent represents.
type EventType string

const (
	EventCreated             EventType = "created"
	EventRemoved             EventType = "removed"
	EventPriceChanged        EventType = "price_changed"
	EventDisclaimerChanged   EventType = "disclaimer_changed"
	EventAvailabilityChanged EventType = "availability_changed"
	EventImageChanged        EventType = "image_changed"
	EventUpdated             EventType = "updated"
)

// FieldDiff is one entry of a ChangeEvent's diff_json payload.
type FieldDiff struct {
	Field        string      `json:"field"`
	OldValue     interface{} `json:"oldValue"`
	NewValue     interface{} `json:"newValue"`
	IsMeaningful bool        `json:"isMeaningful"`
}

// ChangeEvent is append-only, owned by the ChangeDetector.
type ChangeEvent struct {
	ID             string
	TenantID       string
	ImportRunID    string
	EntityType     EntityType
	EntityID       string
	EventType      EventType
	Severity       Severity
	Summary        string
	Diff           []FieldDiff
	NotifiedAt     time.Time
	NotifiedChannel AlertChannel
}
