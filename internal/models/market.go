package models

import "github.com/bitmint/exchange-core/internal/amount"

// Market represents a trading pair, e.g. "BTC-USDT".
type Market struct {
	ID           string        `json:"id"`
	BaseAsset    string        `json:"base_asset"`
	QuoteAsset   string        `json:"quote_asset"`
	MakerFeeRate amount.Amount `json:"maker_fee_rate"`
	TakerFeeRate amount.Amount `json:"taker_fee_rate"`
	Enabled      bool          `json:"enabled"`
}
