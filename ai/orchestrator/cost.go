package orchestrator

import "math"

// Cost computes the turn cost from cumulative token counts and the
// model's per-token USD rates, rounded to 8 decimal places so the value
// is deterministic across platforms and never silently collapses
// fractional cents to zero.
func Cost(promptTokens, completionTokens int, inputRate, outputRate float64) float64 {
	raw := float64(promptTokens)*inputRate + float64(completionTokens)*outputRate
	return math.Round(raw*1e8) / 1e8
}
