package bank

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/svm"
	bin "github.com/gagliardetto/binary"
)

var (
	// ErrMissingSigner is returned when a required signer's keypair was not
	// supplied to NewTransaction.
	ErrMissingSigner = errors.New("missing signer")

	// ErrSignatureCount is returned when a transaction carries a different
	// number of signatures than its message requires.
	ErrSignatureCount = errors.New("wrong number of signatures")

	// ErrSignatureVerification is returned when a signature does not verify.
	ErrSignatureVerification = errors.New("signature verification failed")
)

// Message is the signed content of a transaction.
type Message struct {
	// FeePayer signs the transaction and pays its fee.
	FeePayer types.Pubkey

	// RecentSlot is the slot the message was built against. The bank
	// rejects messages older than its MaxTransactionAge.
	RecentSlot uint64

	Instructions []svm.Instruction
}

// Serialize returns the bytes that are signed.
//
// Format: fee_payer (32) | recent_slot (8) | n_ix (4) | per instruction:
// program_id (32) | n_accounts (4) | (pubkey (32) | flags (1))* |
// data_len (4) | data
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)

	// Writes into a bytes.Buffer cannot fail.
	_ = enc.WriteBytes(m.FeePayer[:], false)
	_ = enc.WriteUint64(m.RecentSlot, binary.LittleEndian)
	_ = enc.WriteUint32(uint32(len(m.Instructions)), binary.LittleEndian)
	for _, ix := range m.Instructions {
		_ = enc.WriteBytes(ix.ProgramID[:], false)
		_ = enc.WriteUint32(uint32(len(ix.Accounts)), binary.LittleEndian)
		for _, meta := range ix.Accounts {
			var flags uint8
			if meta.IsSigner {
				flags |= 1
			}
			if meta.IsWritable {
				flags |= 2
			}
			_ = enc.WriteBytes(meta.Pubkey[:], false)
			_ = enc.WriteUint8(flags)
		}
		_ = enc.WriteUint32(uint32(len(ix.Data)), binary.LittleEndian)
		_ = enc.WriteBytes(ix.Data, false)
	}
	return buf.Bytes()
}

// AccountKeys returns every account the message references in first-seen
// order: fee payer, then instruction accounts and program ids.
func (m *Message) AccountKeys() []types.Pubkey {
	seen := map[types.Pubkey]bool{m.FeePayer: true}
	keys := []types.Pubkey{m.FeePayer}
	add := func(k types.Pubkey) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			add(meta.Pubkey)
		}
		add(ix.ProgramID)
	}
	return keys
}

// Signers returns the accounts that must sign, fee payer first.
func (m *Message) Signers() []types.Pubkey {
	seen := map[types.Pubkey]bool{m.FeePayer: true}
	signers := []types.Pubkey{m.FeePayer}
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !seen[meta.Pubkey] {
				seen[meta.Pubkey] = true
				signers = append(signers, meta.Pubkey)
			}
		}
	}
	return signers
}

// isWritable reports whether any instruction (or the fee payer role) marks
// key writable.
func (m *Message) isWritable(key types.Pubkey) bool {
	if key == m.FeePayer {
		return true
	}
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if meta.Pubkey == key && meta.IsWritable {
				return true
			}
		}
	}
	return false
}

// Transaction is a message plus one signature per required signer, in
// Signers order.
type Transaction struct {
	Message    Message
	Signatures []types.Signature
}

// NewTransaction signs msg with the given keypairs. Every required signer
// must be among them; extra keypairs are ignored.
func NewTransaction(msg Message, signers ...*types.Keypair) (*Transaction, error) {
	byKey := make(map[types.Pubkey]*types.Keypair, len(signers))
	for _, kp := range signers {
		byKey[kp.Pubkey()] = kp
	}

	payload := msg.Serialize()
	required := msg.Signers()
	sigs := make([]types.Signature, len(required))
	for i, key := range required {
		kp, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSigner, key)
		}
		sigs[i] = kp.Sign(payload)
	}

	return &Transaction{Message: msg, Signatures: sigs}, nil
}

// Signature returns the first signature, which identifies the transaction.
func (t *Transaction) Signature() types.Signature {
	if len(t.Signatures) == 0 {
		return types.Signature{}
	}
	return t.Signatures[0]
}

// Verify checks that every required signer produced a valid signature.
func (t *Transaction) Verify() error {
	required := t.Message.Signers()
	if len(required) != len(t.Signatures) {
		return fmt.Errorf("%w: want %d, have %d", ErrSignatureCount, len(required), len(t.Signatures))
	}

	payload := t.Message.Serialize()
	for i, key := range required {
		if !t.Signatures[i].Verify(key, payload) {
			return fmt.Errorf("%w: signer %s", ErrSignatureVerification, key)
		}
	}
	return nil
}
