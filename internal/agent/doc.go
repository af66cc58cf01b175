// Package agent defines the shared data model of the trading agent: portfolio
// snapshots, strategy decisions, execution results and the externally supplied
// agent configuration. Values are exact integer token units (big.Int); USD
// valuations are advisory floats used only for allocation math.
package agent
