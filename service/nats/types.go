package nats

import (
	"time"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/history"
)

// TransferEvent is one transfer found while fetching an account's history.
// It is published to the subject "history.{account}" in JetStream.
type TransferEvent struct {
	// Fetch identifiers
	RunID   string `json:"run_id"`
	Account string `json:"account"`

	// Transaction identifiers
	TxHash    string  `json:"tx_hash"`
	Height    int64   `json:"height"`
	Timestamp *string `json:"timestamp,omitempty"`
	Success   bool    `json:"success"`

	// Transfer details
	Kind      cosmos.TransferKind `json:"kind"`
	Direction cosmos.Direction    `json:"direction"`
	From      string              `json:"from"`
	To        string              `json:"to"`
	Amount    []cosmos.Coin       `json:"amount"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// EventsFromReport flattens a report into one event per transfer, in report
// order.
func EventsFromReport(report *history.Report) []*TransferEvent {
	now := time.Now().UTC()
	var events []*TransferEvent
	for _, tx := range report.Transactions {
		for _, t := range tx.Transfers {
			events = append(events, &TransferEvent{
				RunID:       report.RunID,
				Account:     report.Account,
				TxHash:      tx.Hash,
				Height:      tx.Height,
				Timestamp:   tx.Timestamp,
				Success:     tx.Success,
				Kind:        t.Kind,
				Direction:   t.Direction,
				From:        t.From,
				To:          t.To,
				Amount:      t.Amount,
				PublishedAt: now,
			})
		}
	}
	return events
}
