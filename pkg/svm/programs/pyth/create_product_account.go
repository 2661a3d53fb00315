package pyth

import "github.com/fortiblox/pythsim/pkg/svm"

// processCreateProductAccount is accepted and leaves every account unchanged.
func (p *Processor) processCreateProductAccount(svm.InvokeContext, instructionAccounts, CreateProductAccountInstruction) error {
	return nil
}
