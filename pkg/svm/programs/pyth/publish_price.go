package pyth

import (
	"fmt"

	"github.com/fortiblox/pythsim/pkg/svm"
)

// processPublishPrice overwrites the aggregate price and publish slot of an
// existing price account. The exponent in the payload is not applied.
func (p *Processor) processPublishPrice(ctx svm.InvokeContext, accs instructionAccounts, ix PublishPriceInstruction) error {
	if err := assertOrErr(accs.target.Owner == ctx.ProgramID(), FilePublishPrice); err != nil {
		return err
	}

	price, err := Unpack[Price](accs.target.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}

	price.Aggregate.Price = ix.Price
	price.Aggregate.PublishSlot = ctx.Clock().Slot

	if err := Pack(price, accs.target.Data); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}

	ctx.Log(fmt.Sprintf("PublishPrice: %d at slot %d", ix.Price, price.Aggregate.PublishSlot))
	return nil
}
