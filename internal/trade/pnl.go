// Package trade runs the lifecycle of an arbitrage pair: opening both
// legs, monitoring the live spread, unwinding, and settling P&L.
package trade

// pnl computes the realized result of a closed pair.
//
//	grossLong  = (exitLong  − entryLong ) × qty
//	grossShort = (entryShort − exitShort) × qty
//	fees       = qty × (entryLong + exitLong) × feeLong
//	           + qty × (entryShort + exitShort) × feeShort
//	net        = grossLong + grossShort − fees
//
// Taker fees are charged on the notional of each of the four executions.
func pnl(entryLong, entryShort, exitLong, exitShort, qty, feeLong, feeShort float64) (gross, fees, net float64) {
	grossLong := (exitLong - entryLong) * qty
	grossShort := (entryShort - exitShort) * qty
	gross = grossLong + grossShort
	fees = qty*(entryLong+exitLong)*feeLong + qty*(entryShort+exitShort)*feeShort
	net = gross - fees
	return gross, fees, net
}

// unrealized marks the open pair to the current quotes, charging the
// eventual exit fees so the trailing stop reacts to what a close would
// actually realize.
func unrealized(entryLong, entryShort, longPx, shortPx, qty, feeLong, feeShort float64) float64 {
	_, _, net := pnl(entryLong, entryShort, longPx, shortPx, qty, feeLong, feeShort)
	return net
}
