package rpc

import (
	"encoding/json"
)

// JSONRPCVersion is the only protocol version accepted.
const JSONRPCVersion = "2.0"

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response. Exactly one of Result and
// Error is emitted; a nil Result encodes as null.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result"`
	Error   *RPCError   `json:"error,omitempty"`
}

// MarshalJSON drops the result member from error responses.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string      `json:"jsonrpc"`
			ID      interface{} `json:"id"`
			Error   *RPCError   `json:"error"`
		}{r.JSONRPC, r.ID, r.Error})
	}
	type plain Response
	return json.Marshal(plain(r))
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot       uint64 `json:"slot"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for account data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
	EncodingJSONParsed Encoding = "jsonParsed"
)

// DataSlice specifies a portion of account data to return.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo and getMultipleAccounts.
type AccountInfoConfig struct {
	Encoding       Encoding   `json:"encoding,omitempty"`
	DataSlice      *DataSlice `json:"dataSlice,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// BalanceConfig configures getBalance.
type BalanceConfig struct {
	MinContextSlot *uint64 `json:"minContextSlot,omitempty"`
}

// TransactionConfig configures getTransaction.
type TransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// SignaturesForAddressConfig configures getSignaturesForAddress.
type SignaturesForAddressConfig struct {
	Limit int `json:"limit,omitempty"`
}

// AccountInfo represents account information returned by RPC.
type AccountInfo struct {
	Data       interface{} `json:"data"` // [encoded, encoding] or parsed JSON
	Executable bool        `json:"executable"`
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	RentEpoch  uint64      `json:"rentEpoch"`
	Space      uint64      `json:"space"`
}

// ParsedAccount is the jsonParsed form of a recognized account.
type ParsedAccount struct {
	Program string       `json:"program"`
	Parsed  ParsedRecord `json:"parsed"`
	Space   uint64       `json:"space"`
}

// ParsedRecord carries the decoded record and its kind.
type ParsedRecord struct {
	Type string      `json:"type"`
	Info interface{} `json:"info"`
}

// PriceAccountInfo is the decoded view of an oracle price account.
type PriceAccountInfo struct {
	Magic         uint32          `json:"magic"`
	Version       uint32          `json:"version"`
	PriceType     string          `json:"priceType"`
	Exponent      int32           `json:"exponent"`
	NumComponents uint32          `json:"numComponentPrices"`
	NumQuoters    uint32          `json:"numQuoters"`
	LastSlot      uint64          `json:"lastSlot"`
	ValidSlot     uint64          `json:"validSlot"`
	Product       string          `json:"productAccountKey"`
	Next          string          `json:"nextPriceAccountKey"`
	PrevSlot      uint64          `json:"previousSlot"`
	PrevPrice     int64           `json:"previousPrice"`
	PrevConf      uint64          `json:"previousConfidence"`
	Twap          string          `json:"twap"`
	Twac          string          `json:"twac"`
	Aggregate     PriceInfoParsed `json:"aggregate"`

	Components []PriceComponentParsed `json:"priceComponents"`
}

// PriceComponentParsed is one publisher's entry in a price account.
type PriceComponentParsed struct {
	Publisher string          `json:"publisher"`
	Aggregate PriceInfoParsed `json:"aggregate"`
	Latest    PriceInfoParsed `json:"latest"`
}

// PriceInfoParsed is a decoded price with scaled display values.
type PriceInfoParsed struct {
	Price       int64  `json:"price"`
	Confidence  uint64 `json:"confidence"`
	Status      string `json:"status"`
	PublishSlot uint64 `json:"publishSlot"`
	UIPrice     string `json:"uiPrice"`
	UIConf      string `json:"uiConfidence"`
}

// TransactionResponse is the getTransaction result.
type TransactionResponse struct {
	Slot        uint64               `json:"slot"`
	BlockTime   *int64               `json:"blockTime"`
	Transaction TransactionEncoded   `json:"transaction"`
	Meta        *TransactionMetaJSON `json:"meta"`
}

// TransactionEncoded is the JSON form of a recorded transaction.
type TransactionEncoded struct {
	Signatures []string    `json:"signatures"`
	Message    MessageJSON `json:"message"`
}

// MessageJSON is the JSON form of a transaction message.
type MessageJSON struct {
	AccountKeys  []string          `json:"accountKeys"`
	RecentSlot   uint64            `json:"recentSlot"`
	Instructions []InstructionJSON `json:"instructions"`
}

// InstructionJSON is the JSON form of an instruction. Data is base58 unless
// base64 was requested.
type InstructionJSON struct {
	ProgramID string   `json:"programId"`
	Accounts  []string `json:"accounts"`
	Data      string   `json:"data"`
}

// TransactionMetaJSON contains transaction execution metadata.
type TransactionMetaJSON struct {
	Err                  interface{} `json:"err"`
	Fee                  uint64      `json:"fee"`
	PreBalances          []uint64    `json:"preBalances"`
	PostBalances         []uint64    `json:"postBalances"`
	LogMessages          []string    `json:"logMessages"`
	ComputeUnitsConsumed uint64      `json:"computeUnitsConsumed"`
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature          string      `json:"signature"`
	Slot               uint64      `json:"slot"`
	Err                interface{} `json:"err"`
	BlockTime          *int64      `json:"blockTime"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// BlockResponse is the getBlock result.
type BlockResponse struct {
	Blockhash         string   `json:"blockhash"`
	PreviousBlockhash string   `json:"previousBlockhash"`
	ParentSlot        uint64   `json:"parentSlot"`
	BlockTime         *int64   `json:"blockTime"`
	Signatures        []string `json:"signatures"`
	TransactionCount  uint64   `json:"transactionCount"`
}

// VersionInfo is the getVersion result.
type VersionInfo struct {
	SolanaCore string `json:"solana-core"`
	FeatureSet uint32 `json:"feature-set"`
}
