package domain

// Side is the direction of a trade, resolved once at the source boundary
// from the raw buyer/seller payload union.
type Side string

// Trade sides.
const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether the side is one of the known constants.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Trade is an immutable record of a single bonding-curve fill.
// TxHash is the transaction signature and serves as the idempotency key:
// re-ingesting the same hash is a no-op.
type Trade struct {
	AgentID     string // agent token mint address
	TraderID    string // wallet that placed the trade
	Side        Side
	BaseAmount  float64 // agent tokens moved
	QuoteAmount float64 // SOL notional, net of program fees
	BlockHeight int64
	TxHash      string // globally unique transaction signature
	Timestamp   int64  // chain timestamp (ms)

	// ArrivalTime is stamped by the pipeline on ingest (ms). Not persisted.
	ArrivalTime int64
}

// Price returns the effective fill price in quote units per base unit.
// Trades with BaseAmount == 0 are rejected at the ingest boundary and
// never reach price consumers.
func (t *Trade) Price() float64 {
	return t.QuoteAmount / t.BaseAmount
}

// Notional returns the trade value in quote units.
func (t *Trade) Notional() float64 {
	return t.QuoteAmount
}
