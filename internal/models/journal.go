package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
)

// EntryType labels the business event a journal entry records.
type EntryType string

const (
	EntryDeposit    EntryType = "deposit"
	EntryWithdrawal EntryType = "withdrawal"
	EntryTrade      EntryType = "trade"
	EntryConvert    EntryType = "convert"
	EntryTransfer   EntryType = "transfer"
	EntryReversal   EntryType = "reversal"
)

// JournalEntry is one accounting event. An entry and its lines are written
// atomically and are immutable afterwards. For every asset its lines
// reference, the signed amounts must sum to exactly zero.
type JournalEntry struct {
	ID        uuid.UUID         `json:"id"`
	Type      EntryType         `json:"type"`
	Reference string            `json:"reference"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Lines     []JournalLine     `json:"lines"`
}

// JournalLine is one side of an entry: a signed amount against one
// account in one asset.
type JournalLine struct {
	ID        uuid.UUID     `json:"id"`
	EntryID   uuid.UUID     `json:"entry_id"`
	AccountID uuid.UUID     `json:"account_id"`
	Asset     string        `json:"asset"`
	Amount    amount.Amount `json:"amount"`
}
