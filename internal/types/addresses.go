package types

// Well-known addresses used by the sandbox.
var (
	// SystemProgramAddr is the System Program address.
	SystemProgramAddr = Pubkey{}

	// PythProgramAddr is the default address the oracle program is loaded at.
	// It matches the Pyth mainnet oracle program so that clients built for
	// mainnet resolve the same key.
	PythProgramAddr = MustPubkeyFromBase58("FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH")

	// NativeLoaderAddr owns the accounts of built-in programs.
	NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")

	// SysvarClockAddr is the Clock sysvar address.
	SysvarClockAddr = MustPubkeyFromBase58("SysvarC1ock11111111111111111111111111111111")

	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")
)

// IsSysvar returns true if the pubkey is a sysvar known to the sandbox.
func IsSysvar(p Pubkey) bool {
	switch p {
	case SysvarClockAddr, SysvarRentAddr:
		return true
	default:
		return false
	}
}
