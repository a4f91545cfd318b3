package domain

// Agent is an agent token launched through the factory program. The pipeline
// mirrors the on-chain curve reserves from trade deltas so that metrics can
// derive a spot price without an RPC round trip.
type Agent struct {
	AgentID   string // mint address, primary key
	Creator   string
	Name      string
	Symbol    string
	CreatedAt int64 // ms
	Graduated bool

	Curve CurveState
}

// CurveState mirrors the bonding curve reserve accounts of the factory program.
// Amounts are in native units (lamports and base token units).
type CurveState struct {
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	RealSolReserves      uint64
	RealTokenReserves    uint64
	GraduationThreshold  uint64 // real SOL reserves required to graduate
	BondingCurveSupply   uint64 // tokens allocated to the curve
	TotalSupply          uint64
}

// AgentMetrics is the derived per-agent statistics snapshot. It is advisory and
// always recomputable from trade and position history; treated as cache, never
// as a write-path dependency for candle or position correctness.
type AgentMetrics struct {
	AgentID            string
	CurrentPrice       float64
	MarketCap          float64
	Volume24h          float64 // rolling 24h quote notional
	PriceChange24h     float64 // fractional change vs 24h ago
	Holders            int64   // positions with balance > 0
	AllTimeHigh        float64
	AllTimeLow         float64
	TotalTransactions  int64
	GraduationProgress float64 // real SOL reserves / graduation threshold, capped at 1
	UpdatedAt          int64   // ms
}
