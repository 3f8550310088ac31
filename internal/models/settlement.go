package models

// SettlementBatch is the unit of atomic state change produced by one
// matching pass (or a cancel). A store applies every part of the batch in
// one transaction or none of it; partial settlement must never be
// observable.
type SettlementBatch struct {
	Entries     []JournalEntry
	HoldUpdates []Hold
	OrderUpdate []Order
	Executions  []Execution
}

// Empty reports whether the batch would change nothing.
func (b SettlementBatch) Empty() bool {
	return len(b.Entries) == 0 && len(b.HoldUpdates) == 0 &&
		len(b.OrderUpdate) == 0 && len(b.Executions) == 0
}
