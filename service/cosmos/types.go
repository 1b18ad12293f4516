package cosmos

import (
	"encoding/json"
	"sort"
)

// RawRecord is one transaction exactly as returned by the indexing service.
// Its shape depends on the endpoint and node version.
type RawRecord json.RawMessage

// MarshalJSON keeps the record verbatim when it is embedded in other payloads.
func (r RawRecord) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON stores a copy of the raw bytes.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)
	return nil
}

// Transaction is the canonical, service-independent form of a transaction.
type Transaction struct {
	Hash      string  `json:"hash"`
	Height    int64   `json:"height"`
	Timestamp *string `json:"timestamp,omitempty"`
	Code      uint32  `json:"code"`
	Success   bool    `json:"success"`
	Codespace string  `json:"codespace,omitempty"`
	GasWanted int64   `json:"gas_wanted,omitempty"`
	GasUsed   int64   `json:"gas_used,omitempty"`

	Messages []Message `json:"messages"`
	Events   []Event   `json:"events"`
	Fee      *Fee      `json:"fee,omitempty"`
	Memo     string    `json:"memo,omitempty"`

	// RawTx holds the tx payload when it could not be decoded into JSON.
	RawTx any `json:"raw_tx,omitempty"`
	// DecodeIssues lists the fields that were kept in their raw form.
	DecodeIssues []string `json:"decode_issues,omitempty"`
}

// newTransaction is the only place Success is assigned.
func newTransaction(hash string, height int64, code uint32) *Transaction {
	return &Transaction{
		Hash:     hash,
		Height:   height,
		Code:     code,
		Success:  code == 0,
		Messages: []Message{},
		Events:   []Event{},
	}
}

// MessageKind is the normalized classification of a message type URL.
type MessageKind string

const (
	MessageKindBankSend    MessageKind = "bank_send"
	MessageKindMultiSend   MessageKind = "multisend"
	MessageKindIBCTransfer MessageKind = "ibc_transfer"
	MessageKindUnknown     MessageKind = "unknown"
)

// Message is one transaction message. Body is the message content with the
// type tag removed.
type Message struct {
	Type string         `json:"type"`
	Kind MessageKind    `json:"kind"`
	Body map[string]any `json:"body"`
}

// Event is an ABCI event emitted while executing the transaction.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attribute is a key/value pair of an event, already decoded when possible.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Index *bool  `json:"index,omitempty"`
}

// Fee is the fee paid by the transaction.
type Fee struct {
	Amount   []Coin `json:"amount"`
	GasLimit string `json:"gas_limit,omitempty"`
	Payer    string `json:"payer,omitempty"`
	Granter  string `json:"granter,omitempty"`
}

// Coin is an amount of one denomination. Amount is kept as a decimal string.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// TransferKind names where a transfer was derived from.
type TransferKind string

const (
	TransferBankSend       TransferKind = "bank_send"
	TransferIBC            TransferKind = "ibc_transfer"
	TransferMultisendInput TransferKind = "multisend_input"
	TransferMultisendOut   TransferKind = "multisend_output"
	TransferEvent          TransferKind = "transfer_event"
	TransferCoinSpent      TransferKind = "coin_spent"
	TransferCoinReceived   TransferKind = "coin_received"
)

// Direction is a transfer's direction relative to the target account.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
	DirectionRelated  Direction = "related"
)

// UnknownParty is used when one side of a transfer is not known.
const UnknownParty = "unknown"

// Transfer is a directional movement of funds involving the target account.
type Transfer struct {
	Kind      TransferKind `json:"kind"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Amount    []Coin       `json:"amount"`
	Direction Direction    `json:"direction"`
}

// TransactionSet maps hash to transaction. It never holds two entries for the
// same hash.
type TransactionSet map[string]*Transaction

// Add inserts tx unless its hash is already present. It reports whether tx
// was inserted.
func (s TransactionSet) Add(tx *Transaction) bool {
	if _, ok := s[tx.Hash]; ok {
		return false
	}
	s[tx.Hash] = tx
	return true
}

// Sorted returns the transactions ordered by height descending, hash
// ascending on equal heights.
func (s TransactionSet) Sorted() []*Transaction {
	txs := make([]*Transaction, 0, len(s))
	for _, tx := range s {
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Height != txs[j].Height {
			return txs[i].Height > txs[j].Height
		}
		return txs[i].Hash < txs[j].Hash
	})
	return txs
}
