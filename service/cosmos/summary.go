package cosmos

import (
	"github.com/shopspring/decimal"
)

// Summary is an aggregate view of an account's transaction set.
type Summary struct {
	Account   string `json:"account"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`

	Sent     int `json:"sent"`
	Received int `json:"received"`
	Related  int `json:"related"`

	MessageTypes map[string]int `json:"message_types"`
	EventTypes   map[string]int `json:"event_types"`

	First *TxRef `json:"first,omitempty"`
	Last  *TxRef `json:"last,omitempty"`

	Denoms map[string]DenomTotals `json:"denoms"`
}

// TxRef points at one transaction of the set.
type TxRef struct {
	Hash      string  `json:"hash"`
	Height    int64   `json:"height"`
	Timestamp *string `json:"timestamp,omitempty"`
}

// DenomTotals are the summed amounts moved in one denomination.
type DenomTotals struct {
	Sent     string `json:"sent"`
	Received string `json:"received"`
}

// undecodedMessageType labels messages whose type tag could not be read.
const undecodedMessageType = "undecoded"

// Summarize reduces set into a Summary for target. The result only depends
// on the contents of set.
func Summarize(set TransactionSet, target string) Summary {
	s := Summary{
		Account:      target,
		MessageTypes: map[string]int{},
		EventTypes:   map[string]int{},
		Denoms:       map[string]DenomTotals{},
	}

	sent := map[string]decimal.Decimal{}
	received := map[string]decimal.Decimal{}

	for _, tx := range set.Sorted() {
		s.Total++
		if tx.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}

		for _, m := range tx.Messages {
			typ := m.Type
			if typ == "" {
				typ = undecodedMessageType
			}
			s.MessageTypes[typ]++
		}
		for _, e := range tx.Events {
			s.EventTypes[e.Type]++
		}

		for _, t := range ExtractTransfers(tx, target) {
			switch t.Direction {
			case DirectionSent:
				s.Sent++
			case DirectionReceived:
				s.Received++
			default:
				s.Related++
			}

			// coin_spent and coin_received mirror transfer events.
			if t.Kind == TransferCoinSpent || t.Kind == TransferCoinReceived || !tx.Success {
				continue
			}
			switch t.Direction {
			case DirectionSent:
				addCoins(sent, t.Amount)
			case DirectionReceived:
				addCoins(received, t.Amount)
			}
		}

		ref := &TxRef{Hash: tx.Hash, Height: tx.Height, Timestamp: tx.Timestamp}
		// Sorted is height descending with ascending hashes, so the first
		// entry is the last transaction and later equal heights never win.
		if s.Last == nil {
			s.Last = ref
		}
		if s.First == nil || tx.Height < s.First.Height {
			s.First = ref
		}
	}

	for denom, amt := range sent {
		t := s.Denoms[denom]
		t.Sent = amt.String()
		s.Denoms[denom] = t
	}
	for denom, amt := range received {
		t := s.Denoms[denom]
		t.Received = amt.String()
		s.Denoms[denom] = t
	}
	for denom, t := range s.Denoms {
		if t.Sent == "" {
			t.Sent = "0"
		}
		if t.Received == "" {
			t.Received = "0"
		}
		s.Denoms[denom] = t
	}

	return s
}

func addCoins(totals map[string]decimal.Decimal, coins []Coin) {
	for _, c := range coins {
		if c.Denom == "" {
			continue
		}
		amt, err := decimal.NewFromString(c.Amount)
		if err != nil {
			continue
		}
		totals[c.Denom] = totals[c.Denom].Add(amt)
	}
}
