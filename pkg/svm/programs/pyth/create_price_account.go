package pyth

import (
	"fmt"

	"github.com/fortiblox/pythsim/pkg/svm"
)

// newPriceAccount returns the initial record of a freshly created price
// account.
func newPriceAccount() Price {
	return Price{
		Magic:       Magic,
		Version:     Version2,
		AccountType: AccountTypePrice,
		Aggregate: PriceInfo{
			Price:           0,
			Confidence:      DefaultConfidence,
			Status:          PriceStatusTrading,
			CorporateAction: CorpActionNone,
			PublishSlot:     0,
		},
	}
}

// processCreatePriceAccount zeroes the target buffer and writes an
// initialized price record at its start.
func (p *Processor) processCreatePriceAccount(ctx svm.InvokeContext, accs instructionAccounts, _ CreatePriceAccountInstruction) error {
	data := accs.target.Data
	if len(data) < PriceLen {
		return fmt.Errorf("%w: price account needs %d bytes, has %d", ErrInvalidAccount, PriceLen, len(data))
	}

	clear(data)
	if err := Pack(newPriceAccount(), data); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}

	ctx.Log(fmt.Sprintf("CreatePriceAccount: %s", accs.target.Key))
	return nil
}
