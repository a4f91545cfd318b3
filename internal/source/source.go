// Package source supplies typed trade events to the pipeline. The upstream
// system has already verified the underlying transactions; this package only
// decodes, validates shape, and resolves the buyer/seller union into a
// tagged side.
package source

import "ursus-market/internal/domain"

// TradeSource is an upstream feed of verified trade events.
type TradeSource interface {
	// Trades returns the event feed. The channel closes when the source
	// shuts down.
	Trades() <-chan *domain.Trade

	// Close shuts the source down and closes the feed.
	Close() error
}
