// Package changedetect compares successive entity snapshots and emits a
// ChangeAnalysis (or nil, for noise-only differences) and derives event type
// and severity; routing to an alert channel is done by package alert.
package changedetect

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

// Fields is a flattened field-name -> value view of a Product, Offer, or
// Banner, built by the driver before calling Detect. Keeping the detector
// generic over map[string]any rather than three near-identical struct
// comparators is what lets severity/routing/noise rules live in one place.
type Fields map[string]any

// ImageFingerprints supplies the caller-computed fingerprint for any
// image-reference field present in Fields; spec §4.6 says an image field's
// name changing is not itself meaningful — only its fingerprint changing is.
// Keyed by "<field>:old" and "<field>:new".
type ImageFingerprints map[string]string

// Analysis is the detector's output for one entity comparison.
type Analysis struct {
	EntityType wire.EntityType
	EventType  wire.EventType
	Severity   wire.Severity
	Diff       []wire.FieldDiff
	Summary    string
}

func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String() == ""
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// valuesEqual is deep and order-sensitive; two null-ish values are equal
// regardless of their concrete type (spec §4.6).
func valuesEqual(a, b any) bool {
	if isNullish(a) && isNullish(b) {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// isMeaningfulChange implements spec §4.6's meaningful-change predicate.
func isMeaningfulChange(field string, oldValue, newValue any, images ImageFingerprints) bool {
	if isNoiseField(field) {
		return false
	}
	if isImageField(field) {
		oldFp, newFp := images[field+":old"], images[field+":new"]
		return oldFp != newFp
	}
	if containsPrice(field) {
		return true
	}
	if field == "availability" {
		return true
	}
	wasEmpty := isNullish(oldValue)
	isEmpty := isNullish(newValue)
	if wasEmpty != isEmpty {
		return true
	}
	return !valuesEqual(oldValue, newValue)
}

// diffFields compares previous and next field sets, returning one FieldDiff
// per field whose values differ; a field missing from one map compares as
// nil, so it only differs from a non-null-ish value.
func diffFields(previous, next Fields, images ImageFingerprints) []wire.FieldDiff {
	seen := make(map[string]bool)
	var diffs []wire.FieldDiff

	order := make([]string, 0, len(previous)+len(next))
	for k := range previous {
		if !seen[k] {
			order = append(order, k)
			seen[k] = true
		}
	}
	for k := range next {
		if !seen[k] {
			order = append(order, k)
			seen[k] = true
		}
	}
	sort.Strings(order)

	for _, field := range order {
		oldValue := previous[field]
		newValue := next[field]
		if valuesEqual(oldValue, newValue) {
			continue
		}
		diffs = append(diffs, wire.FieldDiff{
			Field:        field,
			OldValue:     oldValue,
			NewValue:     newValue,
			IsMeaningful: isMeaningfulChange(field, oldValue, newValue, images),
		})
	}
	return diffs
}

// deriveEventType implements the first-match event-type order: price,
// disclaimer, availability, image, else updated.
func deriveEventType(diffs []wire.FieldDiff, entityExisted, entityExists bool) wire.EventType {
	if !entityExisted {
		return wire.EventCreated
	}
	if !entityExists {
		return wire.EventRemoved
	}
	for _, d := range diffs {
		if !d.IsMeaningful {
			continue
		}
		if containsPrice(d.Field) {
			return wire.EventPriceChanged
		}
	}
	for _, d := range diffs {
		if d.IsMeaningful && d.Field == "disclaimer" {
			return wire.EventDisclaimerChanged
		}
	}
	for _, d := range diffs {
		if d.IsMeaningful && d.Field == "availability" {
			return wire.EventAvailabilityChanged
		}
	}
	for _, d := range diffs {
		if d.IsMeaningful && isImageField(d.Field) {
			return wire.EventImageChanged
		}
	}
	return wire.EventUpdated
}

// criticalFields and highFields are the shared severity rule table;
// created/removed severity is handled separately in deriveSeverity, since it
// differs between products (critical) and offers/banners (high).
var criticalFields = map[string]bool{
	"title": true, "price_amount": true, "availability": true,
}
var highFields = map[string]bool{
	"variants": true, "offer_type": true, "saving_amount": true, "end_date": true,
}

func deriveSeverity(entityType wire.EntityType, eventType wire.EventType, diffs []wire.FieldDiff) wire.Severity {
	meaningful := 0
	for _, d := range diffs {
		if d.IsMeaningful {
			meaningful++
		}
	}
	if meaningful == 0 {
		return wire.SeverityLow
	}

	if eventType == wire.EventCreated || eventType == wire.EventRemoved {
		if entityType == wire.EntityProduct {
			return wire.SeverityCritical
		}
		return wire.SeverityHigh
	}

	for _, d := range diffs {
		if d.IsMeaningful && criticalFields[d.Field] {
			return wire.SeverityCritical
		}
	}
	for _, d := range diffs {
		if d.IsMeaningful && highFields[d.Field] {
			return wire.SeverityHigh
		}
	}
	return wire.SeverityMedium
}

// summarize picks the single field to describe in the human-readable
// Summary, scanning price fields first, then availability, then any other
// meaningful field, rather than diffs' incidental order, so two calls with the
// same previous/next snapshots always produce the same Summary (spec §8).
func summarize(entityType wire.EntityType, title string, diffs []wire.FieldDiff) string {
	prefix := ""
	if entityType == wire.EntityProduct && title != "" {
		prefix = fmt.Sprintf("product %s: ", title)
	}

	for _, d := range diffs {
		if d.IsMeaningful && containsPrice(d.Field) {
			return fmt.Sprintf("%sprice changed from %v to %v", prefix, d.OldValue, d.NewValue)
		}
	}
	for _, d := range diffs {
		if d.IsMeaningful && d.Field == "availability" {
			return fmt.Sprintf("%savailability changed from %v to %v", prefix, d.OldValue, d.NewValue)
		}
	}
	for _, d := range diffs {
		if d.IsMeaningful {
			return fmt.Sprintf("%s%s changed", prefix, d.Field)
		}
	}
	return fmt.Sprintf("%sno meaningful change", prefix)
}

// Detect compares previous and next snapshots of one entity and returns an
// Analysis, or nil if every differing field is noise (spec §4.6). previous
// nil means the entity is newly seen; next nil means it disappeared from
// the source.
func Detect(entityType wire.EntityType, title string, previous, next Fields, images ImageFingerprints) *Analysis {
	entityExisted := previous != nil
	entityExists := next != nil

	diffs := diffFields(previous, next, images)

	anyMeaningful := false
	for _, d := range diffs {
		if d.IsMeaningful {
			anyMeaningful = true
			break
		}
	}
	if !anyMeaningful && entityExisted && entityExists {
		return nil
	}

	eventType := deriveEventType(diffs, entityExisted, entityExists)
	severity := deriveSeverity(entityType, eventType, diffs)

	return &Analysis{
		EntityType: entityType,
		EventType:  eventType,
		Severity:   severity,
		Diff:       diffs,
		Summary:    summarize(entityType, title, diffs),
	}
}
