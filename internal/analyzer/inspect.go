package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/emperorhan/wallet-sentinel/internal/chain/solana/rpc"
)

// Outcome is what one transaction contributed to an address's totals.
type Outcome struct {
	Swap     bool   `json:"swap"`
	Lamports uint64 `json:"lamports"`
	Failed   bool   `json:"failed,omitempty"`
	Missing  bool   `json:"missing,omitempty"`
}

// inspectTransaction decides whether raw invokes programID and, if so, how
// many lamports moved in or out of address. A null result means the node no
// longer has the transaction.
func inspectTransaction(raw json.RawMessage, address, programID string) (Outcome, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Outcome{Missing: true}, nil
	}

	var tx rpc.TransactionResponse
	if err := json.Unmarshal(raw, &tx); err != nil {
		return Outcome{}, fmt.Errorf("decode transaction: %w", err)
	}
	if tx.Meta == nil {
		return Outcome{Missing: true}, nil
	}
	if tx.Meta.Err != nil {
		return Outcome{Failed: true}, nil
	}
	if !invokesProgram(&tx, programID) {
		return Outcome{}, nil
	}

	idx := accountIndex(tx.Transaction.Message.AccountKeys, address)
	if idx < 0 || idx >= len(tx.Meta.PreBalances) || idx >= len(tx.Meta.PostBalances) {
		return Outcome{Swap: true}, nil
	}
	delta := tx.Meta.PostBalances[idx] - tx.Meta.PreBalances[idx]
	if delta < 0 {
		delta = -delta
	}
	return Outcome{Swap: true, Lamports: uint64(delta)}, nil
}

func invokesProgram(tx *rpc.TransactionResponse, programID string) bool {
	for _, ix := range tx.Transaction.Message.Instructions {
		if ix.ProgramID == programID {
			return true
		}
	}
	for _, inner := range tx.Meta.InnerInstructions {
		for _, ix := range inner.Instructions {
			if ix.ProgramID == programID {
				return true
			}
		}
	}
	return false
}

func accountIndex(keys []rpc.AccountKey, address string) int {
	for i, k := range keys {
		if k.Pubkey == address {
			return i
		}
	}
	return -1
}
