package driver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Paul008/oem-agent-sub002/internal/changedetect"
	"github.com/Paul008/oem-agent-sub002/internal/extract"
	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

// slotValue returns the found value for the named slot, or "", false if the
// slot was absent from the batch or extraction missed it.
func slotValue(results []extract.SlotResult, name string) (string, bool) {
	for _, r := range results {
		if r.Slot == name && r.Found {
			return r.Value, true
		}
	}
	return "", false
}

var priceDigits = regexp.MustCompile(`[\d][\d,]*\.?\d*`)

// parsePriceAmount pulls the numeric amount out of a price slot's raw text
// (e.g. "from £24,995 OTR"); the currency symbol and trailing qualifiers are
// not themselves tracked as a separate field.
func parsePriceAmount(raw string) float64 {
	match := priceDigits.FindString(raw)
	if match == "" {
		return 0
	}
	amount, _ := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	return amount
}

// contentHash is the entity-level fingerprint stored on content_hash and
// compared by EvaluateChange's caller to decide whether a new Version is
// worth writing; it is independent of fetch.Fingerprint, which hashes the
// raw page HTML rather than the extracted fields.
func contentHash(fields changedetect.Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, fields[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// buildOfferFields maps a homepage/offers page's slot batch onto the Offer
// field set that changedetect.Detect compares. One page yields at most one
// Offer row: the extraction batch runs a single pass over one DOM buffer and
// returns one value per slot, not one per repeated offer card on the page.
func buildOfferFields(results []extract.SlotResult) (changedetect.Fields, bool) {
	title, hasTitle := slotValue(results, "offer_title")
	if !hasTitle {
		return nil, false
	}
	priceRaw, _ := slotValue(results, "offer_price")
	disclaimer, _ := slotValue(results, "offer_disclaimer")

	return changedetect.Fields{
		"title":        title,
		"price_amount": parsePriceAmount(priceRaw),
		"disclaimer":   disclaimer,
	}, true
}

// buildVehicleFields maps a vehicle/build_price/price_guide/category page's
// slot batch onto the Product field set.
func buildVehicleFields(results []extract.SlotResult) (changedetect.Fields, bool) {
	title, hasTitle := slotValue(results, "vehicle_title")
	if !hasTitle {
		return nil, false
	}
	priceRaw, _ := slotValue(results, "vehicle_price")
	availability, hasAvailability := slotValue(results, "vehicle_availability")
	features, _ := slotValue(results, "vehicle_key_features")

	fields := changedetect.Fields{
		"title":        title,
		"price_amount": parsePriceAmount(priceRaw),
	}
	if hasAvailability {
		fields["availability"] = availability
	}
	if features != "" {
		fields["key_features"] = features
	}
	return fields, true
}

// buildBannerFields maps a homepage/offers page's banner slot onto the
// Banner field set; absent entirely if the page carries no banner slot.
func buildBannerFields(results []extract.SlotResult) (changedetect.Fields, bool) {
	headline, ok := slotValue(results, "banner_headline")
	if !ok {
		return nil, false
	}
	return changedetect.Fields{"title": headline}, true
}

// fieldsFromProduct/Offer/Banner give the previous snapshot's Fields view,
// used as the "previous" argument to changedetect.Detect. Only the fields
// buildXFields populates are compared, since those are the only ones the
// extractor can ever re-observe.
func fieldsFromProduct(p wire.Product) changedetect.Fields {
	return changedetect.Fields{
		"title":        p.Title,
		"price_amount": p.Price.Amount,
		"availability": p.Availability,
		"key_features": strings.Join(p.KeyFeatures, "|"),
	}
}

func fieldsFromOffer(o wire.Offer) changedetect.Fields {
	return changedetect.Fields{
		"title":        o.Title,
		"price_amount": o.Price.Amount,
		"disclaimer":   o.Disclaimer,
	}
}

func fieldsFromBanner(b wire.Banner) changedetect.Fields {
	return changedetect.Fields{"title": b.Headline}
}

func applyProductFields(existing wire.Product, tenantID, sourceURL, externalKey string, fields changedetect.Fields, now time.Time) wire.Product {
	p := existing
	p.TenantID = tenantID
	p.SourceURL = sourceURL
	p.ExternalKey = externalKey
	p.Title, _ = fields["title"].(string)
	p.Price.Amount, _ = fields["price_amount"].(float64)
	p.Availability, _ = fields["availability"].(string)
	if kf, _ := fields["key_features"].(string); kf != "" {
		p.KeyFeatures = strings.Split(kf, "|")
	}
	p.ContentHash = contentHash(fields)
	p.LastSeen = now
	if p.FirstSeen.IsZero() {
		p.FirstSeen = now
	}
	return p
}

func applyOfferFields(existing wire.Offer, tenantID, sourceURL, externalKey string, fields changedetect.Fields, now time.Time) wire.Offer {
	o := existing
	o.TenantID = tenantID
	o.SourceURL = sourceURL
	o.ExternalKey = externalKey
	o.Title, _ = fields["title"].(string)
	o.Price.Amount, _ = fields["price_amount"].(float64)
	o.Disclaimer, _ = fields["disclaimer"].(string)
	o.ContentHash = contentHash(fields)
	o.LastSeen = now
	if o.FirstSeen.IsZero() {
		o.FirstSeen = now
	}
	return o
}

func applyBannerFields(existing wire.Banner, tenantID, pageURL string, fields changedetect.Fields, now time.Time) wire.Banner {
	b := existing
	b.TenantID = tenantID
	b.PageURL = pageURL
	b.Headline, _ = fields["title"].(string)
	b.ContentHash = contentHash(fields)
	b.LastSeen = now
	if b.FirstSeen.IsZero() {
		b.FirstSeen = now
	}
	return b
}
