package models

// Asset describes a tradable or depositable currency. Assets are immutable
// once a balance references them.
type Asset struct {
	Chain    string `json:"chain"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}
