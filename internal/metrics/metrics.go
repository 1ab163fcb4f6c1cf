package metrics

import "expvar"

var (
	PriceUpdates      = expvar.NewInt("price_updates")
	PolesDetected     = expvar.NewInt("poles_detected")
	PredictionsTotal  = expvar.NewInt("predictions_total")
	TradesPlaced      = expvar.NewInt("trades_placed")
	HedgesSkipped     = expvar.NewInt("hedges_skipped")
	OrderErrors       = expvar.NewInt("order_errors")
	WindowTransitions = expvar.NewInt("window_transitions")
	SnapshotSaves     = expvar.NewInt("snapshot_saves")
)
