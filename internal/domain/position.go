package domain

// Position is the mutable per-(UserID, AgentID) holding state maintained by the
// portfolio ledger. Invariants: Balance >= 0 always; a sell never changes
// AverageCost, only RealizedPnL, Balance and TotalInvested (pro-rated by the
// sold fraction).
type Position struct {
	UserID        string
	AgentID       string
	Balance       float64 // agent tokens held
	TotalInvested float64 // remaining cost basis in quote units
	AverageCost   float64 // quote units per token, set on buys only
	RealizedPnL   float64 // locked-in profit/loss in quote units
	CurrentValue  float64 // Balance * latest agent price
	LastTradeAt   int64   // timestamp of last trade by this user (ms)
}

// Held reports whether the position still holds a non-zero balance.
func (p *Position) Held() bool {
	return p.Balance > 0
}
