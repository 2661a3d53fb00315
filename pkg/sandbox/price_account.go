package sandbox

import (
	"fmt"

	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/bank"
	"github.com/fortiblox/pythsim/pkg/svm"
	"github.com/fortiblox/pythsim/pkg/svm/programs/pyth"
	"github.com/shopspring/decimal"
)

// PriceAccount is an oracle price account living in a sandbox.
type PriceAccount struct {
	sb     *Sandbox
	pubkey types.Pubkey
}

// NewPriceAccount allocates a full-size price account owned by the oracle
// program and initializes it, in one transaction paid for by payer.
func (s *Sandbox) NewPriceAccount(payer *Actor) (*PriceAccount, error) {
	key, err := NewActor()
	if err != nil {
		return nil, err
	}

	programID := s.OracleProgramID()
	create, err := pyth.CreatePriceAccount(programID, payer.Pubkey(), key.Pubkey())
	if err != nil {
		return nil, err
	}

	ixs := []svm.Instruction{
		payer.CreateAccount(s, key.Pubkey(), pyth.PriceAccountSize, programID),
		create,
	}
	if _, err := s.SendTransaction(ixs, payer, key); err != nil {
		return nil, fmt.Errorf("create price account: %w", err)
	}

	return &PriceAccount{sb: s, pubkey: key.Pubkey()}, nil
}

// OpenPriceAccount wraps an existing price account.
func (s *Sandbox) OpenPriceAccount(key types.Pubkey) *PriceAccount {
	return &PriceAccount{sb: s, pubkey: key}
}

// Pubkey returns the account address.
func (p *PriceAccount) Pubkey() types.Pubkey {
	return p.pubkey
}

// PublishPrice sets the aggregate price. payer signs and pays.
func (p *PriceAccount) PublishPrice(payer *Actor, price int64, exponent int32) (*bank.Result, error) {
	ix, err := pyth.PublishPrice(p.sb.OracleProgramID(), payer.Pubkey(), p.Pubkey(), price, exponent)
	if err != nil {
		return nil, err
	}
	return p.sb.SendTransaction([]svm.Instruction{ix}, payer)
}

// Load decodes the price record.
func (p *PriceAccount) Load() (*pyth.Price, error) {
	acc, err := p.sb.GetAccount(p.Pubkey())
	if err != nil {
		return nil, err
	}
	price, err := pyth.Unpack[pyth.Price](acc.Data)
	if err != nil {
		return nil, fmt.Errorf("decode price account %s: %w", p.Pubkey(), err)
	}
	return &price, nil
}

// Value returns the aggregate price and confidence scaled by the account's
// exponent. ok is false unless the aggregate is trading.
func (p *PriceAccount) Value() (price, conf decimal.Decimal, ok bool, err error) {
	rec, err := p.Load()
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, false, err
	}
	price, conf, ok = rec.Aggregate.Value(rec.Exponent)
	return price, conf, ok, nil
}
