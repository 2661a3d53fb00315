package sandbox

import (
	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/svm"
	"github.com/fortiblox/pythsim/pkg/svm/programs/system"
)

// Actor is a keypair that pays for and signs transactions.
type Actor struct {
	keypair *types.Keypair
}

// NewActor returns an actor with a fresh keypair.
func NewActor() (*Actor, error) {
	kp, err := types.NewKeypair()
	if err != nil {
		return nil, err
	}
	return &Actor{keypair: kp}, nil
}

// ActorFromKeypair wraps an existing keypair.
func ActorFromKeypair(kp *types.Keypair) *Actor {
	return &Actor{keypair: kp}
}

// LoadActor reads an actor from a JSON keyfile.
func LoadActor(path string) (*Actor, error) {
	kp, err := types.ReadKeypairFile(path)
	if err != nil {
		return nil, err
	}
	return &Actor{keypair: kp}, nil
}

// Pubkey returns the actor's address.
func (a *Actor) Pubkey() types.Pubkey {
	return a.keypair.Pubkey()
}

// Keypair returns the actor's signing key.
func (a *Actor) Keypair() *types.Keypair {
	return a.keypair
}

// SaveKeyfile writes the actor's keypair as a JSON keyfile.
func (a *Actor) SaveKeyfile(path string) error {
	return types.WriteKeypairFile(a.keypair, path)
}

// Airdrop credits lamports to the actor.
func (a *Actor) Airdrop(sb *Sandbox, lamports uint64) error {
	return sb.Bank().Airdrop(a.Pubkey(), lamports)
}

// Balance returns the actor's lamports.
func (a *Actor) Balance(sb *Sandbox) (uint64, error) {
	return sb.Bank().GetBalance(a.Pubkey())
}

// CreateAccount builds an instruction in which the actor funds newAccount
// with the rent-exempt minimum for space bytes and assigns it to owner.
// newAccount must also sign the transaction.
func (a *Actor) CreateAccount(sb *Sandbox, newAccount types.Pubkey, space uint64, owner types.Pubkey) svm.Instruction {
	lamports := sb.Bank().MinimumBalanceForRentExemption(space)
	return system.CreateAccount(a.Pubkey(), newAccount, lamports, space, owner)
}
