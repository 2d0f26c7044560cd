package ramp

// Caller is the authorization context the host supplies with every
// operation. Signer is true only when the host has verified that ID signed
// the request; the ledger never checks signatures itself.
type Caller struct {
	ID     [32]byte
	Signer bool
}

// RequireSigner rejects callers without a verified signature.
func RequireSigner(caller Caller) error {
	if !caller.Signer {
		return ErrNotSigner
	}
	return nil
}

// Authorize gates administrative operations on the ledger owner. A missing
// signature is reported before an identity mismatch.
func Authorize(caller Caller, state *LedgerState) error {
	if err := RequireSigner(caller); err != nil {
		return err
	}
	if state == nil || caller.ID != state.Owner {
		return ErrUnauthorized
	}
	return nil
}

// RequireActive rejects value-moving operations while the ledger is paused.
func RequireActive(state *LedgerState) error {
	if state == nil || !state.Active {
		return ErrProgramNotActive
	}
	return nil
}
