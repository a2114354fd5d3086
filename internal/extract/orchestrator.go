// Package extract implements the L2/L3/L4 extraction orchestrator: given a
// tenant's DiscoveryCache health, decide which layer to run, execute the
// self-healing selector attempts for a batch of slots against one DOM
// buffer, and aggregate the resulting stats.
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Paul008/oem-agent-sub002/internal/discovery"
	"github.com/Paul008/oem-agent-sub002/internal/llm"
	"github.com/Paul008/oem-agent-sub002/internal/selfheal"
)

const minCacheHealthForFastPath = 0.3
const maxFailuresBeforeDiscovery = 5

// Layer mirrors selfheal.Layer plus the orchestrator-level L4 verdict that
// never reaches the selector state machine.
type Layer string

const (
	LayerL2       Layer = Layer(selfheal.LayerL2)
	LayerL3       Layer = Layer(selfheal.LayerL3)
	LayerL4       Layer = "L4_DISCOVERY"
)

// DecideLayer implements spec §4.3's layer decision given a tenant's cache
// health summary.
func DecideLayer(health discovery.HealthSummary) Layer {
	if !health.HasCache {
		return LayerL4
	}
	if health.SelectorCount == 0 {
		return LayerL4
	}
	ratio := float64(health.HealthySelectorCount) / float64(health.SelectorCount)
	if ratio < minCacheHealthForFastPath {
		return LayerL4
	}
	return LayerL2
}

// Slot is one requested extraction target: a semantic slot name paired with
// its current cached selector config (empty Config if none cached yet).
type Slot struct {
	Name string
	Cfg  selfheal.Config
}

// SlotResult is one slot's extraction outcome.
type SlotResult struct {
	Slot    string
	Value   string
	Found   bool
	Layer   selfheal.Layer
	Updated selfheal.Config
}

// BatchResult aggregates a batch extraction per spec §4.3/§4.4.
type BatchResult struct {
	Results           []SlotResult
	SelectorsUsed     int
	SelectorsFailed   int
	SelectorsRepaired int
	LLMCalls          int
	DurationMs        int64
	Layer             selfheal.Layer
	Success           bool
	NeedsDiscovery    bool
}

// RunBatch calls Attempt for each requested slot in sequence against the
// same DOM buffer, per spec §4.3's "orchestrator calls this for each
// requested slot in sequence on the same DOM buffer."
func RunBatch(ctx context.Context, oracle llm.Oracle, slots []Slot, domHTML, url, tenantID string, opts selfheal.Options) (BatchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(domHTML))
	if err != nil {
		return BatchResult{}, err
	}

	start := time.Now()
	var result BatchResult
	anyRepair := false

	for _, slot := range slots {
		attempt, attemptErr := selfheal.Attempt(ctx, oracle, slot.Cfg, doc, domHTML, url, tenantID, opts)
		result.SelectorsUsed++
		sr := SlotResult{Slot: slot.Name, Value: attempt.Value, Found: attempt.Found, Layer: attempt.Layer, Updated: attempt.Updated}
		result.Results = append(result.Results, sr)

		if attempt.Layer == selfheal.LayerL3 || attempt.Layer == selfheal.LayerL3Failed {
			result.LLMCalls++
		}
		if attempt.Layer == selfheal.LayerL3 {
			result.SelectorsRepaired++
			anyRepair = true
		}
		if !attempt.Found {
			result.SelectorsFailed++
		}
		if attemptErr != nil {
			// Extraction miss per the driver's error taxonomy (spec §7.3):
			// not fatal to the batch, counted and the batch continues.
			continue
		}
	}

	if anyRepair {
		result.Layer = selfheal.LayerL3
	} else {
		result.Layer = selfheal.LayerL2
	}
	if result.SelectorsUsed > 0 {
		result.Success = result.SelectorsFailed*2 < result.SelectorsUsed
	} else {
		result.Success = true
	}
	if result.SelectorsUsed > 0 &&
		float64(result.SelectorsFailed)/float64(result.SelectorsUsed) > 0.5 &&
		result.SelectorsRepaired >= maxFailuresBeforeDiscovery {
		result.NeedsDiscovery = true
	}
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}
