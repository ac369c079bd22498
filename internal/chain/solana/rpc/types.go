package rpc

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC request/response types

type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Server error codes that describe the submitted transaction, not the node.
const (
	CodeSendTransactionPreflightFailure         = -32002
	CodeTransactionSignatureVerificationFailure = -32003
	CodeTransactionSignatureLenMismatch         = -32013
	CodeUnsupportedTransactionVersion           = -32015
)

// TransactionRejected reports whether the node answered but refused the
// transaction itself.
func (e *RPCError) TransactionRejected() bool {
	switch e.Code {
	case CodeSendTransactionPreflightFailure,
		CodeTransactionSignatureVerificationFailure,
		CodeTransactionSignatureLenMismatch,
		CodeUnsupportedTransactionVersion:
		return true
	}
	return false
}

// ResponseContext is the context object wrapped around many results.
type ResponseContext struct {
	Slot int64 `json:"slot"`
}

// getBalance response
type BalanceResult struct {
	Context ResponseContext `json:"context"`
	Value   uint64          `json:"value"`
}

// getLatestBlockhash response
type BlockhashResult struct {
	Context ResponseContext `json:"context"`
	Value   struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

// getSignaturesForAddress response
type SignatureInfo struct {
	Signature          string      `json:"signature"`
	Slot               int64       `json:"slot"`
	BlockTime          *int64      `json:"blockTime"`
	Err                interface{} `json:"err"`
	Memo               *string     `json:"memo"`
	ConfirmationStatus *string     `json:"confirmationStatus"`
}

// getTransaction response (jsonParsed)
type TransactionResponse struct {
	Slot        int64             `json:"slot"`
	BlockTime   *int64            `json:"blockTime"`
	Transaction ParsedTransaction `json:"transaction"`
	Meta        *TransactionMeta  `json:"meta"`
}

type ParsedTransaction struct {
	Signatures []string      `json:"signatures"`
	Message    ParsedMessage `json:"message"`
}

type ParsedMessage struct {
	AccountKeys  []AccountKey        `json:"accountKeys"`
	Instructions []ParsedInstruction `json:"instructions"`
}

type AccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// ParsedInstruction keeps only the fields needed to identify the invoked
// program. Parsed payloads vary by program and stay raw.
type ParsedInstruction struct {
	ProgramID string          `json:"programId"`
	Program   string          `json:"program,omitempty"`
	Parsed    json.RawMessage `json:"parsed,omitempty"`
}

type TransactionMeta struct {
	Err               interface{}        `json:"err"`
	Fee               uint64             `json:"fee"`
	PreBalances       []int64            `json:"preBalances"`
	PostBalances      []int64            `json:"postBalances"`
	PreTokenBalances  []TokenBalance     `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance     `json:"postTokenBalances"`
	InnerInstructions []InnerInstruction `json:"innerInstructions"`
	LogMessages       []string           `json:"logMessages"`
}

type TokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		UIAmount *float64 `json:"uiAmount"`
		Decimals int      `json:"decimals"`
		Amount   string   `json:"amount"`
	} `json:"uiTokenAmount"`
	ProgramID string `json:"programId"`
}

type InnerInstruction struct {
	Index        int                 `json:"index"`
	Instructions []ParsedInstruction `json:"instructions"`
}

// accountSubscribe notification payload
type AccountNotification struct {
	Context ResponseContext `json:"context"`
	Value   struct {
		Lamports uint64 `json:"lamports"`
		Owner    string `json:"owner"`
	} `json:"value"`
}
