package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/tmhistory/service/cosmos"
	"github.com/brojonat/tmhistory/service/txsearch"
	"github.com/btcsuite/btcutil/bech32"
	"github.com/google/uuid"
)

// maxAccountLength is the bech32 length limit.
const maxAccountLength = 90

// ValidateAccount checks that account is a bech32 address with a valid
// checksum and a non-empty payload.
func ValidateAccount(account string) error {
	if account == "" {
		return fmt.Errorf("account is required")
	}
	if len(account) > maxAccountLength {
		return fmt.Errorf("invalid account address: %q is longer than %d characters", account, maxAccountLength)
	}
	_, data, err := bech32.Decode(account)
	if err != nil {
		return fmt.Errorf("invalid account address: %q: %w", account, err)
	}
	if account != strings.ToLower(account) {
		return fmt.Errorf("invalid account address: %q must be lower case", account)
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return fmt.Errorf("invalid account address: %q: %w", account, err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("invalid account address: %q has no payload", account)
	}
	return nil
}

// ReportTransaction is a transaction with the transfers it makes relative to
// the report's account.
type ReportTransaction struct {
	*cosmos.Transaction
	Transfers []cosmos.Transfer `json:"transfers"`
}

// Report is the full result of one history fetch.
type Report struct {
	RunID        string                  `json:"run_id"`
	Account      string                  `json:"account"`
	Backend      string                  `json:"backend,omitempty"`
	GeneratedAt  time.Time               `json:"generated_at"`
	Complete     bool                    `json:"complete"`
	Summary      cosmos.Summary          `json:"summary"`
	Transactions []ReportTransaction     `json:"transactions"`
	Queries      []txsearch.QueryOutcome `json:"queries"`
	Duplicates   int                     `json:"duplicates"`
	Dropped      int                     `json:"dropped"`
}

// BuildReport assembles a report from a merged transaction set. Complete is
// false when any query did not finish.
func BuildReport(account string, set cosmos.TransactionSet, outcomes []txsearch.QueryOutcome) *Report {
	sorted := set.Sorted()
	txs := make([]ReportTransaction, len(sorted))
	for i, tx := range sorted {
		txs[i] = ReportTransaction{
			Transaction: tx,
			Transfers:   cosmos.ExtractTransfers(tx, account),
		}
	}

	complete := true
	for _, q := range outcomes {
		if q.Status != txsearch.StatusComplete {
			complete = false
			break
		}
	}

	if outcomes == nil {
		outcomes = []txsearch.QueryOutcome{}
	}

	return &Report{
		RunID:        uuid.NewString(),
		Account:      account,
		GeneratedAt:  time.Now().UTC(),
		Complete:     complete,
		Summary:      cosmos.Summarize(set, account),
		Transactions: txs,
		Queries:      outcomes,
	}
}
