package types

// SystemProgramAddr is the System Program address (all zeros). Freshly
// allocated accounts are owned by it until a program initializes them.
var SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

// IsSystemOwned reports whether an owner is the System Program, i.e. the
// account has not been handed to any program yet.
func IsSystemOwned(owner Pubkey) bool {
	return owner == SystemProgramAddr
}

// NativeLoaderAddr owns program accounts deployed into the host runtime.
var NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")
