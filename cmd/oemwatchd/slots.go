package main

import (
	"github.com/Paul008/oem-agent-sub002/internal/extract"
	"github.com/Paul008/oem-agent-sub002/internal/selfheal"
	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

// slotsFor returns the fixed extraction-slot vocabulary for a page type. The
// Cfg on each slot is filled in by the driver from the tenant's
// DiscoveryCache before the batch runs; here only Name and Semantic (the
// selector-repair prompt's description of what the slot should match) are
// fixed.
func slotsFor(pageType wire.PageType) []extract.Slot {
	switch pageType {
	case wire.PageHomepage, wire.PageOffers:
		return []extract.Slot{
			{Name: "offer_title", Cfg: withSemantic("the headline of a promotional offer card")},
			{Name: "offer_price", Cfg: withSemantic("the current advertised price of the offer")},
			{Name: "offer_disclaimer", Cfg: withSemantic("the fine-print disclaimer text beneath an offer")},
			{Name: "offer_cta", Cfg: withSemantic("the call-to-action button text and link for an offer")},
			{Name: "banner_headline", Cfg: withSemantic("the headline of a hero or carousel promotional banner")},
		}
	case wire.PageBuildPrice, wire.PagePriceGuide:
		return []extract.Slot{
			{Name: "vehicle_title", Cfg: withSemantic("the model and trim name of the configured vehicle")},
			{Name: "vehicle_price", Cfg: withSemantic("the total or starting price of the configured vehicle")},
			{Name: "vehicle_availability", Cfg: withSemantic("the in-stock / order-only availability status")},
		}
	case wire.PageVehicle, wire.PageCategory:
		return []extract.Slot{
			{Name: "vehicle_title", Cfg: withSemantic("the model name of the vehicle listing")},
			{Name: "vehicle_price", Cfg: withSemantic("the starting price shown for the vehicle")},
			{Name: "vehicle_key_features", Cfg: withSemantic("the bulleted list of key feature highlights")},
		}
	default:
		return nil
	}
}

func withSemantic(semantic string) selfheal.Config {
	return selfheal.Config{Semantic: semantic}
}
