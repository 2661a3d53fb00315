package pyth

import "github.com/fortiblox/pythsim/pkg/svm"

// processCreateMappingAccount is accepted and leaves every account unchanged.
func (p *Processor) processCreateMappingAccount(svm.InvokeContext, instructionAccounts, CreateMappingAccountInstruction) error {
	return nil
}
