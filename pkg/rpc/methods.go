package rpc

import (
	"encoding/json"
	"errors"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/accounts"
	"github.com/fortiblox/pythsim/pkg/blockstore"
)

const maxSignaturesLimit = 1000

// parseArgs splits positional params. Missing params are an empty list.
func parseArgs(params json.RawMessage, required int) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < required {
		return nil, InvalidParamsError("missing parameters")
	}
	return args, nil
}

func parsePubkey(raw json.RawMessage) (types.Pubkey, *RPCError) {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return types.Pubkey{}, InvalidParamsError("invalid pubkey")
	}
	pubkey, err := types.PubkeyFromBase58(str)
	if err != nil {
		return types.Pubkey{}, InvalidParamsError("invalid pubkey format")
	}
	return pubkey, nil
}

// parseConfig decodes the optional config object at args[i].
func parseConfig(args []json.RawMessage, i int, dst interface{}) *RPCError {
	if len(args) <= i || string(args[i]) == "null" {
		return nil
	}
	if err := json.Unmarshal(args[i], dst); err != nil {
		return InvalidParamsError("invalid config")
	}
	return nil
}

func (s *Server) checkMinContextSlot(minSlot *uint64) (uint64, *RPCError) {
	current := s.state.Slot()
	if minSlot != nil && *minSlot > current {
		return current, MinContextSlotError(*minSlot, current)
	}
	return current, nil
}

// Account Methods

func (s *Server) getAccountInfo(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	encoding, err := ParseEncoding(string(config.Encoding))
	if err != nil {
		return nil, InvalidParamsError(err.Error())
	}

	slot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	info, rpcErr := s.lookupAccount(pubkey, encoding, config.DataSlice)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: info}, nil
}

func (s *Server) getMultipleAccounts(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var keys []string
	if err := json.Unmarshal(args[0], &keys); err != nil {
		return nil, InvalidParamsError("invalid pubkey list")
	}
	if len(keys) > 100 {
		return nil, InvalidParamsError("too many pubkeys, maximum is 100")
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	encoding, err := ParseEncoding(string(config.Encoding))
	if err != nil {
		return nil, InvalidParamsError(err.Error())
	}
	slot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	values := make([]*AccountInfo, len(keys))
	for i, key := range keys {
		pubkey, err := types.PubkeyFromBase58(key)
		if err != nil {
			return nil, InvalidParamsError("invalid pubkey format")
		}
		if values[i], rpcErr = s.lookupAccount(pubkey, encoding, config.DataSlice); rpcErr != nil {
			return nil, rpcErr
		}
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: values}, nil
}

// lookupAccount returns nil for missing accounts.
func (s *Server) lookupAccount(pubkey types.Pubkey, encoding Encoding, slice *DataSlice) (*AccountInfo, *RPCError) {
	account, err := s.state.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}
	return s.accountToAccountInfo(account, encoding, slice)
}

func (s *Server) accountToAccountInfo(account *accounts.Account, encoding Encoding, slice *DataSlice) (*AccountInfo, *RPCError) {
	info := &AccountInfo{
		Executable: account.Executable,
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		RentEpoch:  account.RentEpoch,
		Space:      uint64(len(account.Data)),
	}

	if encoding == EncodingJSONParsed && slice == nil {
		if parsed := parseAccount(account, s.state.OracleProgramID()); parsed != nil {
			info.Data = parsed
			return info, nil
		}
	}

	data, err := EncodeAccountData(ApplyDataSlice(account.Data, slice), encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode account data: %v", err)
	}
	info.Data = data
	return info, nil
}

func (s *Server) getBalance(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config BalanceConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	slot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var lamports uint64
	account, err := s.state.GetAccount(pubkey)
	switch {
	case err == nil:
		lamports = account.Lamports
	case !errors.Is(err, accounts.ErrAccountNotFound):
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: lamports}, nil
}

// Ledger Methods

func (s *Server) getTransaction(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var sigStr string
	if err := json.Unmarshal(args[0], &sigStr); err != nil {
		return nil, InvalidParamsError("invalid signature")
	}
	sig, err := types.SignatureFromBase58(sigStr)
	if err != nil {
		return nil, InvalidParamsError("invalid signature format")
	}
	var config TransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	tx, err := s.state.Ledger().GetTransaction(sig)
	if errors.Is(err, blockstore.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get transaction: %v", err)
	}
	return transactionToResponse(tx, config.Encoding), nil
}

func transactionToResponse(tx *blockstore.Transaction, encoding Encoding) *TransactionResponse {
	resp := &TransactionResponse{
		Slot:      tx.Slot,
		BlockTime: blockTime(tx.BlockTime),
		Transaction: TransactionEncoded{
			Signatures: make([]string, len(tx.Signatures)),
			Message: MessageJSON{
				AccountKeys:  pubkeysToStrings(tx.Message.AccountKeys),
				RecentSlot:   tx.Message.RecentSlot,
				Instructions: make([]InstructionJSON, len(tx.Message.Instructions)),
			},
		},
	}
	for i, sig := range tx.Signatures {
		resp.Transaction.Signatures[i] = sig.String()
	}
	for i, ix := range tx.Message.Instructions {
		resp.Transaction.Message.Instructions[i] = InstructionJSON{
			ProgramID: ix.ProgramID.String(),
			Accounts:  pubkeysToStrings(ix.Accounts),
			Data:      encodeInstructionData(ix.Data, encoding),
		}
	}

	if meta := tx.Meta; meta != nil {
		logs := meta.LogMessages
		if logs == nil {
			logs = []string{}
		}
		resp.Meta = &TransactionMetaJSON{
			Err:                  transactionErrorJSON(meta.Err),
			Fee:                  meta.Fee,
			PreBalances:          meta.PreBalances,
			PostBalances:         meta.PostBalances,
			LogMessages:          logs,
			ComputeUnitsConsumed: meta.ComputeUnitsConsumed,
		}
	}
	return resp
}

// transactionErrorJSON renders failures as {"InstructionError": [index, detail]},
// where detail is {"Custom": code} for program error codes.
func transactionErrorJSON(err *blockstore.TransactionError) interface{} {
	if err == nil {
		return nil
	}
	if err.InstructionIndex < 0 {
		return err.Message
	}
	var detail interface{} = err.Message
	if err.Code != nil {
		detail = map[string]uint32{"Custom": *err.Code}
	}
	return map[string]interface{}{
		"InstructionError": []interface{}{err.InstructionIndex, detail},
	}
}

func (s *Server) getSignaturesForAddress(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SignaturesForAddressConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	if config.Limit <= 0 || config.Limit > maxSignaturesLimit {
		config.Limit = maxSignaturesLimit
	}

	signatures, err := s.state.Ledger().GetSignaturesForAddress(addr, config.Limit)
	if err != nil {
		return nil, InternalServerErrorf("failed to get signatures: %v", err)
	}

	results := make([]SignatureInfo, len(signatures))
	for i, sig := range signatures {
		results[i] = SignatureInfo{
			Signature:          sig.Signature.String(),
			Slot:               sig.Slot,
			Err:                transactionErrorJSON(sig.Err),
			BlockTime:          blockTime(sig.BlockTime),
			ConfirmationStatus: "finalized",
		}
	}
	return results, nil
}

func (s *Server) getBlock(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var slot uint64
	if err := json.Unmarshal(args[0], &slot); err != nil {
		return nil, InvalidParamsError("invalid slot")
	}

	ledger := s.state.Ledger()
	meta, err := ledger.GetSlotMeta(slot)
	if errors.Is(err, blockstore.ErrSlotNotFound) {
		return nil, BlockNotFoundError(slot)
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get slot meta: %v", err)
	}
	sigs, err := ledger.GetSlotSignatures(slot)
	if err != nil {
		return nil, InternalServerErrorf("failed to get slot signatures: %v", err)
	}

	resp := &BlockResponse{
		Blockhash:         meta.BankHash.String(),
		PreviousBlockhash: meta.ParentBankHash.String(),
		ParentSlot:        meta.ParentSlot,
		BlockTime:         blockTime(meta.BlockTime),
		Signatures:        make([]string, len(sigs)),
		TransactionCount:  meta.TransactionCount,
	}
	for i, sig := range sigs {
		resp.Signatures[i] = sig.String()
	}
	return resp, nil
}

// Cluster Methods

func (s *Server) getSlot(params json.RawMessage) (interface{}, *RPCError) {
	return s.state.Slot(), nil
}

func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{SolanaCore: Version}, nil
}

func (s *Server) getMinimumBalanceForRentExemption(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var dataLen uint64
	if err := json.Unmarshal(args[0], &dataLen); err != nil {
		return nil, InvalidParamsError("invalid data length")
	}
	return s.state.MinimumBalanceForRentExemption(dataLen), nil
}

// Helper functions

func blockTime(t int64) *int64 {
	if t == 0 {
		return nil
	}
	return &t
}

func pubkeysToStrings(pubkeys []types.Pubkey) []string {
	out := make([]string, len(pubkeys))
	for i, pk := range pubkeys {
		out[i] = pk.String()
	}
	return out
}
